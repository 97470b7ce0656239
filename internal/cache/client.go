package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"claude-code-proxy/internal/llm"
	"claude-code-proxy/pkg/logging/logging"
)

// Client serves repeated non-streaming requests from an ExactCache and
// forwards everything else to the wrapped llm.Client. The cache is
// best-effort: lookup and store failures are logged and never fail a request.
type Client struct {
	inner     llm.Client
	store     ExactCache
	ttl       time.Duration
	versionID string
}

var _ llm.Client = (*Client)(nil)

func NewClient(inner llm.Client, store ExactCache, ttl time.Duration, versionID string) *Client {
	return &Client{inner: inner, store: store, ttl: ttl, versionID: versionID}
}

func (c *Client) ChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	logger := logging.L(ctx)

	key, err := BuildExactCacheKey(req, scopeFrom(ctx), c.versionID)
	if err != nil {
		logger.Warn("key_builder_error", zap.Error(err))
		return c.inner.ChatCompletion(ctx, req)
	}
	cacheKey := key.String()

	if cached, hit, err := c.store.Get(ctx, cacheKey); err == nil && hit {
		var resp llm.ChatResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			return &resp, nil
		} else {
			logger.Warn("exact_cache_unmarshal_error", zap.Error(err))
		}
	}

	resp, err := c.inner.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(resp); err != nil {
		logger.Warn("marshal_response_error", zap.Error(err))
	} else if err := c.store.Set(ctx, cacheKey, data, c.ttl); err != nil {
		logger.Warn("exact_cache_set_error", zap.Error(err))
	}

	return resp, nil
}

// ChatCompletionStream is never cached.
func (c *Client) ChatCompletionStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamResult, error) {
	return c.inner.ChatCompletionStream(ctx, req)
}

// Close closes the wrapped client and the store when they hold resources.
func (c *Client) Close() error {
	if closer, ok := c.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
