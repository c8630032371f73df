package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/af-corp/chatlog-relay/internal/admin"
	"github.com/af-corp/chatlog-relay/internal/config"
	"github.com/af-corp/chatlog-relay/internal/gateway"
	"github.com/af-corp/chatlog-relay/internal/ratelimit"
	"github.com/af-corp/chatlog-relay/internal/render"
	"github.com/af-corp/chatlog-relay/internal/telemetry"
	"github.com/af-corp/chatlog-relay/internal/transcript"
	"github.com/af-corp/chatlog-relay/internal/upstream"
	"github.com/af-corp/chatlog-relay/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to configuration file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configPath, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()
	level.Set(config.ParseLevel(cfg.Logging.Level))

	rate := new(atomic.Pointer[ratelimit.Rate])
	rate.Store(parseRate(cfg.Server.RateLimit, logger))

	loader.OnReload(func() {
		next := loader.Config()
		level.Set(config.ParseLevel(next.Logging.Level))
		rate.Store(parseRate(next.Server.RateLimit, logger))
		logger.Info("configuration reloaded", "level", next.Logging.Level, "rate_limit", next.Server.RateLimit)
	})

	// Connect to Redis
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (rate limiting disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Transcripts and rendering
	store := transcript.NewStore(cfg.Logging.Directory, cfg.Logging.MaxFiles, logger)
	settings := render.NewSettingsManager(cfg.Parser.SettingsPath, render.SettingsFromConfig(cfg.Parser), logger)
	if err := settings.Load(); err != nil {
		logger.Warn("failed to load render settings, using configured defaults", "path", cfg.Parser.SettingsPath, "error", err)
	}

	var invoker *render.Invoker
	if cfg.Renderer.Enabled && len(cfg.Renderer.Command) > 0 {
		renderer := render.ExecRenderer{Command: cfg.Renderer.Command, Timeout: cfg.Renderer.Timeout}
		invoker = render.NewInvoker(renderer, settings, store, metrics, logger)
	} else {
		logger.Info("renderer disabled")
	}
	recorder := render.NewRecorder(store, invoker, metrics)

	// Build handlers
	params := validate.NewParamStore(validate.ParamsFromConfig(cfg), cfg.Generation.Bounds)
	client := upstream.NewClient(upstream.OptionsFromConfig(cfg.Upstream))
	handler := gateway.NewHandler(client, loader.Config, params, recorder, metrics, version)
	adminHandler := admin.NewHandler(store, settings, invoker, params, loader.Config, metrics, version)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/models", handler.ListModels)
	adminHandler.Register(r)

	// Completion routes
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.NewLimiter(rdb), func() ratelimit.Rate { return *rate.Load() }, metrics))
		r.Post("/chat/completions", handler.ChatCompletions)
		r.Post("/openrouter-cc", handler.ChatCompletions)
	})
	r.Get("/openrouter-cc", handler.Alive)
	r.Options("/chat/completions", handler.Preflight)
	r.Options("/openrouter-cc", handler.Preflight)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay starting",
			"addr", addr,
			"version", version,
			"upstream", cfg.Upstream.URL,
			"log_dir", store.Dir(),
			"api_key_configured", cfg.Upstream.APIKey != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("relay stopped")
}

// parseRate falls back to no limit when the configured rate is malformed.
func parseRate(s string, logger *slog.Logger) *ratelimit.Rate {
	rate, err := ratelimit.ParseRate(s)
	if err != nil {
		logger.Warn("invalid rate limit, limiting disabled", "rate_limit", s, "error", err)
		rate = ratelimit.Rate{}
	}
	return &rate
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
