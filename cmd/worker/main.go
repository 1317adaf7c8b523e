package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/clubpay-backend/internal/bootstrap"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/instance"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	service, err := NewService(ctx, core)
	if err != nil {
		logg.Error(ctx, "failed to build worker service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
