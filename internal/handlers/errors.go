package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/llm"
	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/pkg/logging/logging"
)

// httpError is the client-facing form of a failure.
type httpError struct {
	Status  int
	Type    string
	Message string
}

// classify maps any error the pipeline can return onto a status code and a
// Messages API error type. Upstream status codes are never passed through,
// except 429 which keeps its meaning.
func classify(err error) httpError {
	var (
		verr     *anthropic.ValidationError
		maxErr   *http.MaxBytesError
		upstream *llm.UpstreamError
	)

	switch {
	case errors.As(err, &verr):
		return httpError{http.StatusBadRequest, anthropic.ErrInvalidRequest, verr.Message}
	case errors.As(err, &maxErr):
		return httpError{http.StatusRequestEntityTooLarge, anthropic.ErrRequestTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)}
	case errors.Is(err, llm.ErrRequestTooLarge):
		return httpError{http.StatusRequestEntityTooLarge, anthropic.ErrRequestTooLarge, err.Error()}
	case errors.Is(err, llm.ErrInvalidRequest):
		return httpError{http.StatusBadRequest, anthropic.ErrInvalidRequest, err.Error()}
	case errors.As(err, &upstream):
		if upstream.StatusCode == http.StatusTooManyRequests {
			return httpError{http.StatusTooManyRequests, anthropic.ErrRateLimit, upstreamMessage(upstream)}
		}
		return httpError{http.StatusBadGateway, anthropic.ErrAPI, upstreamMessage(upstream)}
	case errors.Is(err, context.DeadlineExceeded):
		return httpError{http.StatusGatewayTimeout, anthropic.ErrTimeout, "upstream request timed out"}
	case errors.Is(err, llm.ErrMalformedResponse):
		return httpError{http.StatusBadGateway, anthropic.ErrAPI, "malformed upstream response"}
	default:
		return httpError{http.StatusBadGateway, anthropic.ErrAPI, "upstream request failed"}
	}
}

func upstreamMessage(e *llm.UpstreamError) string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

// writeError logs err and writes its envelope.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	he := classify(err)

	logger := logging.L(ctx)
	fields := []zap.Field{
		zap.Int("status", he.Status),
		zap.String("error_type", he.Type),
		zap.Error(err),
	}
	if he.Status >= http.StatusInternalServerError || he.Status == http.StatusTooManyRequests {
		metrics.UpstreamErrorsTotal.WithLabelValues(he.Type).Inc()
		logger.Error("request_failed", fields...)
	} else {
		logger.Warn("request_rejected", fields...)
	}

	anthropic.WriteError(w, he.Status, he.Type, he.Message)
}
