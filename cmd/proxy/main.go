package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"claude-code-proxy/internal/cache"
	"claude-code-proxy/internal/config"
	"claude-code-proxy/internal/handlers"
	"claude-code-proxy/internal/httpserver"
	"claude-code-proxy/internal/llm"
	"claude-code-proxy/internal/mapper"
	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("proxy exited with error: %v", err)
	}
}

func run() error {
	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()
	logging.SetVerbose(cfg.Verbose)

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream_base_url", cfg.Upstream.BaseURL),
		zap.Duration("upstream_timeout", cfg.Upstream.Timeout),
		zap.Int("upstream_max_retries", cfg.Upstream.MaxRetries),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("verbose", cfg.Verbose),
	)

	// ----- Upstream client -----
	var client llm.Client
	client, err = llm.NewClient(llm.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		APIKey:          cfg.Upstream.APIKey,
		Referer:         cfg.Upstream.Referer,
		Title:           cfg.Upstream.Title,
		UpstreamTimeout: cfg.Upstream.Timeout,
		MaxRetries:      cfg.Upstream.MaxRetries,
	}, logger)
	if err != nil {
		return err
	}

	// ----- Response cache (optional) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == cache.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.Cache.RedisAddr),
		)
	}

	store, err := cache.NewExactCache(cache.Config{
		Backend:    cfg.Cache.Backend,
		TTL:        cfg.Cache.TTL,
		Prefix:     cfg.Cache.Prefix,
		MaxEntries: cfg.Cache.MaxEntries,
	}, redisClient)
	if err != nil {
		return err
	}
	if store != nil {
		store = cache.NewLoggingExactCache(store, cfg.Cache.Backend)
		client = cache.NewClient(client, store, cfg.Cache.TTL, cfg.Cache.VersionID)
	}
	if closer, ok := client.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Model mapper -----
	table := cfg.Models.Table()
	if table == nil {
		table = mapper.DefaultTable()
	}
	models := mapper.New(mapper.Config{
		Table:   table,
		Opus:    cfg.Models.Opus,
		Sonnet:  cfg.Models.Sonnet,
		Haiku:   cfg.Models.Haiku,
		Default: cfg.Models.Default,
	})

	// ----- Handlers -----
	messagesHandler := handlers.NewMessagesHandler(client, models)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, messagesHandler, httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	// ----- HTTP server -----
	// no WriteTimeout: streamed replies stay open for as long as upstream
	// generates; the request timeout middleware bounds them instead
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("starting proxy",
		zap.String("addr", srv.Addr),
	)

	// Start server in background
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-serveErr:
		if ok {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-stop:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
