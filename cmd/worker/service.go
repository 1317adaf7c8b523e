package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/clubpay-backend/internal/bootstrap"
	"github.com/angelmondragon/clubpay-backend/internal/dispatch"
	"github.com/angelmondragon/clubpay-backend/internal/payments"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
	"github.com/angelmondragon/clubpay-backend/pkg/queue"
)

// Service runs the dispatch, generation and webhook workers side by side.
type Service struct {
	logg    *logger.Logger
	core    *bootstrap.Core
	workers []*queue.Worker
}

func NewService(ctx context.Context, core *bootstrap.Core) (*Service, error) {
	cfg, logg := core.Config, core.Logger
	reg := prometheus.DefaultRegisterer

	gateways, err := bootstrap.Gateways(ctx, cfg, logg)
	if err != nil {
		return nil, fmt.Errorf("payment gateways: %w", err)
	}
	engine, err := core.Billing(gateways, reg)
	if err != nil {
		return nil, fmt.Errorf("billing engine: %w", err)
	}
	queueMetrics := metrics.NewQueueMetrics(reg)
	queues, err := core.Queues(queueMetrics)
	if err != nil {
		return nil, fmt.Errorf("queues: %w", err)
	}

	coordinator, err := dispatch.NewCoordinator(core.Clubs, queues, logg)
	if err != nil {
		return nil, err
	}
	generate, err := dispatch.NewGenerateHandler(engine, logg)
	if err != nil {
		return nil, err
	}
	processor, err := payments.NewProcessor(core.Accessor, core.Clubs, metrics.NewWebhookMetrics(reg), logg)
	if err != nil {
		return nil, err
	}

	workers, err := dispatch.NewWorkers(queues, dispatch.Handlers{
		Dispatch: coordinator.HandleDispatch,
		Generate: generate.Handle,
		Webhook:  processor.Handle,
	}, cfg.Queue, cfg.Billing, logg, queueMetrics)
	if err != nil {
		return nil, err
	}
	return &Service{logg: logg, core: core, workers: workers}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.core.DB.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.core.Redis.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is canceled or a worker stops with an error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}
