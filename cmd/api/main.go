package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/clubpay-backend/api/routes"
	"github.com/angelmondragon/clubpay-backend/internal/bootstrap"
	"github.com/angelmondragon/clubpay-backend/internal/payments"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/instance"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap dependencies", err)
		os.Exit(1)
	}
	defer func() {
		if err := core.Close(); err != nil {
			logg.Error(context.Background(), "error closing dependencies", err)
		}
	}()

	gateways, err := bootstrap.Gateways(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to configure payment gateways", err)
		os.Exit(1)
	}
	queues, err := core.Queues(metrics.NewQueueMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		logg.Error(ctx, "failed to build queues", err)
		os.Exit(1)
	}
	ingestor, err := payments.NewIngestor(gateways, queues.Webhooks, metrics.NewWebhookMetrics(prometheus.DefaultRegisterer), logg)
	if err != nil {
		logg.Error(ctx, "failed to build webhook ingestor", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"gateways": gateways.Names(),
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:   cfg,
			Logger:   logg,
			DB:       core.DB,
			Redis:    core.Redis,
			Ingestor: ingestor,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server stopped")
	}
}
