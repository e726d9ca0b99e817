package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/config"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/subscription"
	"github.com/firstgrade/hms/internal/tenant"
)

var errMemoryBackend = errors.New("hmsctl needs a persistent STORE_BACKEND (file, sqlite, postgres or redis)")

// env is everything a command needs, opened against the configured backend.
type env struct {
	cfg     *config.Config
	store   *tenant.Store
	service *subscription.Service
	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func openEnv(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*env, error) {
	e := &env{cfg: cfg}

	backend, err := e.openBackend(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.store = tenant.NewStore(backend, logger)
	if err := e.store.Load(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("load tenants: %w", err)
	}

	// Changes made here reach running servers' UI shells through the bus.
	var pub events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, "hmsctl", logger)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		e.closers = append(e.closers, nc.Close)
		pub = nc
	}

	e.service = subscription.NewService(e.store, plans.Default, logger).
		WithClock(billing.SystemClock{}).
		WithPublisher(pub).
		WithStrictPlans(cfg.StrictPlans)
	return e, nil
}

func (e *env) openBackend(ctx context.Context) (tenant.Backend, error) {
	cfg := e.cfg
	switch cfg.StoreBackend {
	case config.BackendFile:
		return tenant.NewFileBackend(cfg.StoreDir)

	case config.BackendSQLite:
		b, err := tenant.NewSQLiteBackend(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = b.Close() })
		return b, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		b := tenant.NewPostgresBackend(db)
		if err := b.Migrate(ctx); err != nil {
			return nil, err
		}
		return b, nil

	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		e.closers = append(e.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return tenant.NewRedisBackend(client, cfg.RedisPrefix), nil
	}
	return nil, errMemoryBackend
}
