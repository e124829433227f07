package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/api"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/config"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/events"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/limits"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/margin"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/metrics"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (history will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Event fan-out ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	sinks := events.Multi{wsHub}
	// The publisher outlives the HTTP server so it can drain events from
	// in-flight requests; stopPublisher waits for the drain.
	stopPublisher := func() {}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("flow-margin"))
		if err != nil {
			slog.Error("NATS connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { nc.Drain() })
		js, err := jetstream.New(nc)
		if err != nil {
			slog.Error("JetStream init failed", "err", err)
			os.Exit(1)
		}
		if err := events.EnsureStream(ctx, js); err != nil {
			slog.Error("JetStream stream setup failed", "err", err)
			os.Exit(1)
		}
		pub := events.NewPublisher(js, 4096, logger)
		stopPublisher = pub.Start()
		sinks = append(sinks, pub)
		slog.Info("NATS event publishing enabled", "url", cfg.NATSURL)
	}

	// --- Margin engine ---
	opts := []margin.Option{
		margin.WithLogger(logger),
		margin.WithReporter(events.BankruptcyReporter{Sink: sinks}),
	}
	if cfg.LimitsEnabled() {
		opts = append(opts, margin.WithLimiter(limits.NewExposureLimiter(cfg.MaxClassNotional, cfg.MaxPairNotional)))
		slog.Info("exposure limits enabled",
			"max_class_notional", cfg.MaxClassNotional.String(),
			"max_pair_notional", cfg.MaxPairNotional.String(),
		)
	}
	engine := margin.New(opts...)

	boot, err := config.LoadBootstrap(cfg.BootstrapPath)
	if err != nil {
		slog.Error("bootstrap load failed", "path", cfg.BootstrapPath, "err", err)
		os.Exit(1)
	}
	classes, err := boot.Apply(engine)
	if err != nil {
		slog.Error("bootstrap apply failed", "err", err)
		os.Exit(1)
	}
	for i := range classes {
		if err := st.SaveClass(ctx, &classes[i]); err != nil {
			slog.Error("failed to record class", "class", classes[i].ID, "err", err)
		}
	}
	slog.Info("engine bootstrapped",
		"currencies", len(boot.Currencies),
		"pools", len(boot.Pools),
		"classes", len(classes),
	)

	// --- API service ---
	svc := api.NewService(engine, st, sinks)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"flow-margin"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time engine events.
		r.Get("/ws", wsHub.HandleWS)
		svc.Mount(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("flow-margin listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down flow-margin...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopPublisher()
	fmt.Println("flow-margin stopped")
}
