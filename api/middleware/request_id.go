package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

const RequestIDHeader = "X-Request-Id"

// RequestID echoes the caller's request id, or mints one, and attaches it to
// the request's log context.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
