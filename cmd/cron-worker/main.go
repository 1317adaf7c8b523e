package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/clubpay-backend/internal/bootstrap"
	"github.com/angelmondragon/clubpay-backend/internal/cron"
	"github.com/angelmondragon/clubpay-backend/internal/dispatch"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/instance"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
)

func main() {
	period := flag.String("period", "", "billing period to dispatch (YYYY-MM); forces a trigger regardless of the billing day")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	service, err := newCronService(ctx, core, *period)
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"period":      *period,
		"instance":    instance.GetID(),
	})

	if *once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func newCronService(ctx context.Context, core *bootstrap.Core, period string) (*cron.Service, error) {
	cfg, logg := core.Config, core.Logger
	reg := prometheus.DefaultRegisterer

	queues, err := core.Queues(metrics.NewQueueMetrics(reg))
	if err != nil {
		return nil, err
	}
	coordinator, err := dispatch.NewCoordinator(core.Clubs, queues, logg)
	if err != nil {
		return nil, err
	}
	gateways, err := bootstrap.Gateways(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	engine, err := core.Billing(gateways, reg)
	if err != nil {
		return nil, err
	}

	dispatchJob, err := cron.NewBillingDispatchJob(cron.BillingDispatchJobParams{
		Logger:     logg,
		Trigger:    coordinator,
		BillingDay: cfg.Billing.BillingDay,
		Period:     period,
	})
	if err != nil {
		return nil, err
	}
	retryJob, err := cron.NewGatewayRetryJob(cron.GatewayRetryJobParams{
		Logger: logg,
		Clubs:  core.Clubs,
		Engine: engine,
	})
	if err != nil {
		return nil, err
	}
	registry, err := cron.NewRegistry(dispatchJob, retryJob)
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(core.Redis, core.Redis.LockKey("cron-worker", cfg.App.Env), 0)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
}
