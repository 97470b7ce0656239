package cache

import (
	"context"
	"fmt"
	"time"
)

// ExactCacheKey identifies one upstream chat request. Hash is sha256 of the
// normalized request body.
type ExactCacheKey struct {
	Scope     string
	ModelID   string
	VersionID string
	Hash      string
}

// String converts the structured key into the final string used in Redis/map.
func (k ExactCacheKey) String() string {
	// exact:<SCOPE>:<MODEL_ID>:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("exact:%s:%s:%s:%s", k.Scope, k.ModelID, k.VersionID, k.Hash)
}

// ExactCache stores serialized upstream replies.
// Implemented by memory cache (dev) and Redis cache (prod).
type ExactCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type scopeKey struct{}

// WithScope tags ctx with the caller identity that partitions cache entries.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scopeFrom(ctx context.Context) string {
	if s, ok := ctx.Value(scopeKey{}).(string); ok && s != "" {
		return s
	}
	return "anon"
}
