package main

import (
	"context"
	"fmt"
	"log/slog"

	tlhttp "github.com/Strob0t/TraceLab/internal/adapter/http"
	"github.com/Strob0t/TraceLab/internal/adapter/memory"
	"github.com/Strob0t/TraceLab/internal/adapter/postgres"
	"github.com/Strob0t/TraceLab/internal/config"
	"github.com/Strob0t/TraceLab/internal/port/counter"
	"github.com/Strob0t/TraceLab/internal/port/eventstore"
	"github.com/Strob0t/TraceLab/internal/port/participant"
	"github.com/Strob0t/TraceLab/internal/service"
)

// storage bundles the adapters selected by storage.driver.
type storage struct {
	store    eventstore.Store
	recorder eventstore.Recorder
	files    service.FileAppender
	counter  counter.Aggregator
	registry participant.Registry
	checks   map[string]tlhttp.HealthCheck
	close    func()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		store := memory.NewStore()
		c := memory.NewCounter()
		reg := memory.NewRegistry().AllowAll()
		rec := memory.NewRecorder(store, c, reg)
		slog.Warn("using in-memory storage; telemetry is lost on exit and every participant counts as active")
		return &storage{
			store:    store,
			recorder: rec,
			files:    rec,
			counter:  c,
			registry: reg,
			checks:   map[string]tlhttp.HealthCheck{},
			close:    func() {},
		}, nil

	case config.DriverPostgres:
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
		rec := postgres.NewRecorder(pool)
		return &storage{
			store:    postgres.NewEventStore(pool),
			recorder: rec,
			files:    rec,
			counter:  postgres.NewCounter(pool),
			registry: postgres.NewRegistry(pool),
			checks:   map[string]tlhttp.HealthCheck{"postgres": pool.Ping},
			close:    pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
