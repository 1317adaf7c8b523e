package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/clubpay-backend/api/responses"
	"github.com/angelmondragon/clubpay-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

type ingestor interface {
	Ingest(ctx context.Context, gatewayName string, body []byte, headers http.Header) (*payments.IngestResult, error)
}

// GatewayWebhook accepts callbacks for POST /webhooks/{gatewayName}. The body
// is read untouched because signatures are computed over the raw bytes. A
// 200 means the event is durably queued or deliberately ignored; any other
// status asks the gateway to redeliver.
func GatewayWebhook(svc ingestor, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook ingestion unavailable"))
			return
		}
		gatewayName := chi.URLParam(r, "gatewayName")

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Ingest(ctx, gatewayName, payload, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		body := map[string]any{"received": true}
		if result.Ignored {
			body["ignored"] = true
		} else {
			body["job_id"] = result.JobID
			body["duplicate"] = !result.Enqueued
		}
		responses.WriteSuccess(w, body)
	}
}
