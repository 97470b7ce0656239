package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	maxRequestSize = 8 * 1024 * 1024 // 8MB total JSON payload
	maxMessageSize = 2 * 1024 * 1024 // 2MB per message content
)

func (c *client) ChatCompletion(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	bodyBytes, err := c.encodeRequest(req, false)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("llm request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	resp, err := c.send(ctx, bodyBytes)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	// Handle non-2xx responses
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		uerr := readUpstreamError(resp)
		c.logger.Error("llm provider error",
			zap.Int("status", uerr.StatusCode),
			zap.String("error_type", uerr.Type),
			zap.String("error_message", uerr.Message),
		)
		return nil, uerr
	}

	// Decode success response
	var pResp providerChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrMalformedResponse, err)
	}

	if pResp.Error != nil && pResp.Error.Message != "" {
		return nil, &UpstreamError{
			StatusCode: http.StatusBadGateway,
			Type:       pResp.Error.Type,
			Message:    pResp.Error.Message,
		}
	}

	// Validate response has choices
	if len(pResp.Choices) == 0 {
		c.logger.Error("llm provider returned no choices",
			zap.String("model", req.Model),
		)
		return nil, fmt.Errorf("%w: provider returned no choices", ErrMalformedResponse)
	}

	// Map provider - internal response
	out := &ChatResponse{
		ID:      pResp.ID,
		Created: time.Unix(pResp.Created, 0),
		Model:   pResp.Model,
		Choices: make([]ChatChoice, 0, len(pResp.Choices)),
	}

	for _, ch := range pResp.Choices {
		msg := ChatMessage{Role: ch.Message.Role}
		if ch.Message.Content != nil {
			msg.Content = *ch.Message.Content
		}
		if ch.Message.Reasoning != nil {
			msg.Reasoning = *ch.Message.Reasoning
		}
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			Message:      msg,
			FinishReason: ch.FinishReason,
		})
	}

	// Always include usage (even if zero)
	out.Usage = &Usage{}
	if u := pResp.Usage.toUsage(); u != nil {
		out.Usage = u
	}

	c.logger.Info("llm request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

// encodeRequest validates req and renders the provider payload.
func (c *client) encodeRequest(req *ChatRequest, stream bool) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Per-message size guard
	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf(
				"%w: message[%d] content is %d bytes, max %d",
				ErrRequestTooLarge, i, len(m.Content), maxMessageSize,
			)
		}
	}

	bodyBytes, err := json.Marshal(newProviderRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	// Sanity check total request size
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf(
			"%w: %d bytes, max %d",
			ErrRequestTooLarge, len(bodyBytes), maxRequestSize,
		)
	}
	return bodyBytes, nil
}

// doOnce builds a fresh *http.Request for each attempt
func (c *client) doOnce(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
	}
	c.setHeaders(httpReq.Header)
	return c.httpClient.Do(httpReq)
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
