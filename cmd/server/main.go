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
	"github.com/redis/go-redis/v9"

	"github.com/investr/trade-engine/internal/config"
	"github.com/investr/trade-engine/internal/events"
	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/market"
	"github.com/investr/trade-engine/internal/metrics"
	"github.com/investr/trade-engine/internal/store"
	"github.com/investr/trade-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, closeStore)

	// Wrap PostgreSQL with Redis read-through cache if configured.
	if cfg.DatabaseURL != "" && cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	// One allocator per process, shared by every writer.
	ids := idalloc.New()

	// --- Prices ---
	var prices market.PriceSource = market.NewStorePrices(st)
	var cached *market.CachedPrices
	if cfg.PriceCacheTTL > 0 {
		cached, err = market.NewCachedPrices(prices, cfg.PriceCacheTTL)
		if err != nil {
			slog.Error("price cache init failed", "err", err)
			os.Exit(1)
		}
		prices = cached
	}
	clock := market.NewClock(st, loc)

	// --- Events ---
	hub := events.NewHub()
	go hub.Run(ctx)
	pub := events.Multi{{Name: "websocket", Publisher: hub}}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { kp.Close() })
		pub = append(pub, events.Named{Name: "kafka", Publisher: kp})
		slog.Info("Kafka publishing enabled", "topic", cfg.KafkaTopic)
	}

	// --- Trade service ---
	svc := trade.NewService(st, ids, prices, clock, pub)

	// --- Price generator ---
	if cfg.TickInterval > 0 {
		gen := market.NewGenerator(st, ids, pub, cfg.Volatility)
		if cached != nil {
			gen.OnTick(cached.Invalidate)
		}
		go gen.Run(ctx, cfg.TickInterval)
		slog.Info("price generator started", "interval", cfg.TickInterval, "volatility", cfg.Volatility)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+trade.RoleHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trade-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint for trades, cash movements and price ticks. It is
	// registered outside the timeout middleware.
	r.Get("/api/v1/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(30 * time.Second))
		r.Mount("/api/v1", svc.Routes(clock))
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
		slog.Info("trade-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down trade-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trade-engine stopped")
}
