package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/clubpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("panic: %v", rec)
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
