// Package bootstrap assembles the dependency graph shared by the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/clubpay-backend/internal/billing"
	"github.com/angelmondragon/clubpay-backend/internal/clubs"
	"github.com/angelmondragon/clubpay-backend/internal/dispatch"
	"github.com/angelmondragon/clubpay-backend/internal/fieldcrypt"
	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	squaregw "github.com/angelmondragon/clubpay-backend/internal/gateway/square"
	stripegw "github.com/angelmondragon/clubpay-backend/internal/gateway/stripe"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
	"github.com/angelmondragon/clubpay-backend/pkg/migrate"
	"github.com/angelmondragon/clubpay-backend/pkg/redis"
	pkgsquare "github.com/angelmondragon/clubpay-backend/pkg/square"
	pkgstripe "github.com/angelmondragon/clubpay-backend/pkg/stripe"
)

// Core holds the connections and club plumbing every binary needs.
type Core struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Partitions *tenancy.Manager
	Accessor   *tenancy.Accessor
	Clubs      *clubs.Service
}

// Open connects to the database and Redis, applies pending shared-schema
// migrations where allowed and builds the club services. Callers must Close.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	core := &Core{Config: cfg, Logger: logg}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	core.DB = dbClient

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return nil, multierr.Append(fmt.Errorf("run dev migrations: %w", err), core.Close())
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("bootstrap redis: %w", err), core.Close())
	}
	core.Redis = redisClient

	if err := core.buildClubs(); err != nil {
		return nil, multierr.Append(err, core.Close())
	}
	return core, nil
}

func (c *Core) buildClubs() error {
	manager, err := tenancy.NewManager(c.DB, c.Logger)
	if err != nil {
		return err
	}
	accessor, err := tenancy.NewAccessor(manager)
	if err != nil {
		return err
	}
	service, err := clubs.NewService(clubs.NewRepository(c.DB.DB()), manager, c.Logger)
	if err != nil {
		return err
	}
	c.Partitions, c.Accessor, c.Clubs = manager, accessor, service
	return nil
}

// Close releases the connections that were opened.
func (c *Core) Close() error {
	var errs error
	if c.Redis != nil {
		errs = multierr.Append(errs, c.Redis.Close())
	}
	if c.DB != nil {
		errs = multierr.Append(errs, c.DB.Close())
	}
	return errs
}

// Gateways registers an adapter for every provider with credentials.
func Gateways(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*gateway.Registry, error) {
	registry, err := gateway.NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.Stripe.Enabled() {
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		adapter, err := stripegw.FromClient(client, cfg.Billing.Currency)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	if cfg.Square.Enabled() {
		client, err := pkgsquare.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		adapter, err := squaregw.FromClient(client, cfg.Billing.Currency)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	if len(registry.Names()) == 0 {
		logg.Warn(ctx, "no payment gateway configured; charges will be recorded without dispatch")
	}
	return registry, nil
}

// Billing builds the charge generation engine.
func (c *Core) Billing(gateways *gateway.Registry, reg prometheus.Registerer) (*billing.Engine, error) {
	codec, err := fieldcrypt.New(c.Config.Crypto.FieldSecret, fieldcrypt.Options{BlindIndex: c.Config.Crypto.BlindIndex})
	if err != nil {
		return nil, err
	}
	return billing.NewEngine(billing.EngineParams{
		Accessor: c.Accessor,
		Clubs:    c.Clubs,
		Gateways: gateways,
		Codec:    codec,
		Config:   c.Config.Billing,
		Metrics:  metrics.NewBillingMetrics(reg),
		Logger:   c.Logger,
	})
}

// Queues builds the billing and webhook queues on the shared Redis connection.
func (c *Core) Queues(m *metrics.QueueMetrics) (*dispatch.Queues, error) {
	return dispatch.NewQueues(c.Redis.Raw(), c.Config.Queue, c.Config.Billing, c.Logger, m)
}
