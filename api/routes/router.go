package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/clubpay-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/clubpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/clubpay-backend/api/middleware"
	"github.com/angelmondragon/clubpay-backend/internal/payments"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

// Params carries everything the HTTP surface depends on.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Ingestor *payments.Ingestor
	Metrics  prometheus.Gatherer
}

func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	env := p.Config.App.Env
	r.Get("/healthz", controllers.HealthLive(env))
	r.Get("/readyz", controllers.HealthReady(env, p.Logger, map[string]controllers.Pinger{
		"db":    p.DB,
		"redis": p.Redis,
	}))

	gatherer := p.Metrics
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// A nil *Ingestor must not reach the handler as a non-nil interface.
	ingest := webhookcontrollers.GatewayWebhook(nil, p.Config.Webhooks.MaxBodyBytes, p.Logger)
	if p.Ingestor != nil {
		ingest = webhookcontrollers.GatewayWebhook(p.Ingestor, p.Config.Webhooks.MaxBodyBytes, p.Logger)
	}
	r.Post("/webhooks/{gatewayName}", ingest)

	return r
}
