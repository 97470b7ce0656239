package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend    string
	TTL        time.Duration
	Prefix     string
	MaxEntries int
}

// NewExactCache returns the configured backend, or nil for BackendNone.
func NewExactCache(cfg Config, redisClient *redis.Client) (ExactCache, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("cache: redis backend requires a redis client")
		}
		return NewRedisExactCache(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), nil
	case BackendMemory:
		return NewMemoryExactCache(cfg.TTL, cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
