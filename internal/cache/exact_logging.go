package cache

import (
	"context"
	"strings"
	"time"

	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingExactCache wraps an ExactCache with logging + metrics.
type LoggingExactCache struct {
	inner   ExactCache
	backend string
}

// NewLoggingExactCache returns a cache that logs and records metrics.
func NewLoggingExactCache(inner ExactCache, backend string) ExactCache {
	return &LoggingExactCache{inner: inner, backend: backend}
}

func (c *LoggingExactCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(c.backend, result).Inc()
	if ok {
		metrics.ExactHitsTotal.Inc()
	}

	fields := append(keyFields(key),
		zap.String("cache_backend", c.backend),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("exact_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("exact_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingExactCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := append(keyFields(key),
		zap.String("cache_backend", c.backend),
		zap.Int("bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("exact_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("exact_cache_set", fields...)
	}

	return err
}

// Close releases the wrapped backend when it holds resources.
func (c *LoggingExactCache) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// keyFields splits an ExactCacheKey string back into log fields.
// Expecting: exact:<SCOPE>:<MODEL_ID>:<VERSION_ID>:<HASH>
func keyFields(key string) []zap.Field {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "exact" {
		return []zap.Field{zap.String("cache_key", key)}
	}
	return []zap.Field{
		zap.String("scope", parts[1]),
		zap.String("model_id", parts[2]),
		zap.String("version_id", parts[3]),
		zap.String("hash", parts[4]),
	}
}
