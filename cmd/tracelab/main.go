package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tlhttp "github.com/Strob0t/TraceLab/internal/adapter/http"
	tlnats "github.com/Strob0t/TraceLab/internal/adapter/nats"
	"github.com/Strob0t/TraceLab/internal/adapter/natskv"
	tlotel "github.com/Strob0t/TraceLab/internal/adapter/otel"
	"github.com/Strob0t/TraceLab/internal/adapter/ristretto"
	"github.com/Strob0t/TraceLab/internal/adapter/tiered"
	"github.com/Strob0t/TraceLab/internal/adapter/ws"
	"github.com/Strob0t/TraceLab/internal/config"
	"github.com/Strob0t/TraceLab/internal/logger"
	"github.com/Strob0t/TraceLab/internal/middleware"
	"github.com/Strob0t/TraceLab/internal/port/cache"
	"github.com/Strob0t/TraceLab/internal/port/messagequeue"
	"github.com/Strob0t/TraceLab/internal/resilience"
	"github.com/Strob0t/TraceLab/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	appLogger, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(appLogger)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"log_level", cfg.Logging.Level,
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := tlotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := tlotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	var queue messagequeue.Queue
	var l2, idemL2 cache.Cache
	if cfg.NATS.URL != "" {
		q, err := tlnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
		st.checks["nats"] = func(context.Context) error {
			if !q.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
		slog.Info("nats connected", "stream", cfg.NATS.Stream)

		if cfg.Cache.L2Bucket != "" {
			kv, err := natskv.Open(ctx, q.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.ParticipantBucketTTL())
			if err != nil {
				return fmt.Errorf("participant cache bucket: %w", err)
			}
			l2 = kv
		}
		if cfg.Cache.IdempotencyBucket != "" && cfg.Ingest.IdempotencyTTL > 0 {
			kv, err := natskv.Open(ctx, q.JetStream(), cfg.Cache.IdempotencyBucket, cfg.Ingest.IdempotencyTTL)
			if err != nil {
				return fmt.Errorf("idempotency bucket: %w", err)
			}
			idemL2 = kv
		}
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("participant cache: %w", err)
	}
	defer l1.Close()

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	breaker.OnStateChange(func(from, to resilience.State) {
		slog.Warn("notification breaker state changed", "from", from, "to", to)
	})

	registry := service.NewCachedRegistry(st.registry, tiered.New(l1, l2, cfg.Cache.ParticipantTTL), cfg.Cache.ParticipantTTL)
	notifier := service.NewNotificationService(queue, hub, breaker, cfg.Ingest.NotifyTimeout, metrics)
	ingestSvc := service.NewIngestService(registry, st.recorder, st.files, notifier, metrics)
	countsSvc := service.NewCountsService(st.counter, st.store)
	exportSvc := service.NewExportService(st.store, st.counter, cfg.Export.Timeout, metrics)

	if queue != nil {
		cancels, err := ingestSvc.StartSubscribers(ctx, queue)
		if err != nil {
			return fmt.Errorf("ingest subscriber: %w", err)
		}
		defer func() {
			for _, cancel := range cancels {
				cancel()
			}
		}()
	}

	// --- HTTP ---

	handlers := &tlhttp.Handlers{
		Ingest:       ingestSvc,
		Counts:       countsSvc,
		Export:       exportSvc,
		HealthChecks: st.checks,
		BodyLimit:    cfg.Ingest.MaxBodyBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(tlhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(tlotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(tlhttp.SecurityHeaders)
	r.Use(tlhttp.CORS(cfg.Server.CORSOrigin))

	var guards tlhttp.Guards
	if cfg.Ingest.IdempotencyTTL > 0 {
		guards.Ingest = append(guards.Ingest,
			middleware.Idempotency(tiered.New(l1, idemL2, cfg.Ingest.IdempotencyTTL), cfg.Ingest.IdempotencyTTL))
	}
	if cfg.Server.ReadRateLimit > 0 {
		rl := middleware.NewRateLimiter(cfg.Server.ReadRateLimit, cfg.Server.ReadBurst)
		go rl.Run(ctx, time.Minute, 10*time.Minute)
		guards.Read = append(guards.Read, rl.Handler)
	}

	r.Get("/ws", hub.HandleWS)
	tlhttp.MountRoutes(r, handlers, cfg.Server, guards)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.RequestTimeout,
		WriteTimeout:      cfg.Export.Timeout + cfg.Server.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}
	return nil
}
