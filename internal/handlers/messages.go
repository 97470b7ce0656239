package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/cache"
	"claude-code-proxy/internal/llm"
	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/internal/sse"
	"claude-code-proxy/internal/transform"
	"claude-code-proxy/pkg/logging/logging"
)

// MessagesHandler holds dependencies for the Messages API endpoints.
type MessagesHandler struct {
	Client llm.Client
	Models transform.ModelResolver
}

func NewMessagesHandler(client llm.Client, models transform.ModelResolver) *MessagesHandler {
	return &MessagesHandler{
		Client: client,
		Models: models,
	}
}

// Messages handles POST /v1/messages and POST /anthropic/v1/messages.
func (h *MessagesHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	req, err := decodeMessagesRequest(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	// partitions the response cache per caller
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		ctx = cache.WithScope(ctx, userID)
	}

	upstreamReq := transform.BuildUpstreamRequest(req, h.Models)

	ctx = logging.WithFields(ctx,
		zap.String("model", req.Model),
		zap.String("upstream_model", upstreamReq.Model),
		zap.Bool("stream", req.Stream),
	)
	logger = logging.L(ctx)
	logger.Debug("messages_request", zap.Any("request", req))
	logger.Debug("upstream_request", zap.Any("upstream_request", upstreamReq))

	if req.Stream {
		h.stream(ctx, w, req, upstreamReq, start)
		return
	}
	h.complete(ctx, w, req, upstreamReq, start)
}

func decodeMessagesRequest(r *http.Request) (*anthropic.MessagesRequest, error) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, &anthropic.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (h *MessagesHandler) complete(
	ctx context.Context,
	w http.ResponseWriter,
	req *anthropic.MessagesRequest,
	upstreamReq *llm.ChatRequest,
	start time.Time,
) {
	logger := logging.L(ctx)

	llmStart := time.Now()
	resp, err := h.Client.ChatCompletion(ctx, upstreamReq)
	llmLatency := time.Since(llmStart)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	logger.Debug("upstream_response", zap.Any("upstream_response", resp))

	out, err := transform.BuildMessagesResponse(resp, req.Model)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	metrics.ObserveUsage(upstreamReq.Model, out.Usage.InputTokens, out.Usage.OutputTokens)
	metrics.MessagesTotal.WithLabelValues("json", stopLabel(out.StopReason)).Inc()

	logger.Info("message_completed",
		zap.String("message_id", out.ID),
		zap.String("stop_reason", stopLabel(out.StopReason)),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens),
		zap.Duration("llm_latency_ms", llmLatency),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, out)
}

func (h *MessagesHandler) stream(
	ctx context.Context,
	w http.ResponseWriter,
	req *anthropic.MessagesRequest,
	upstreamReq *llm.ChatRequest,
	start time.Time,
) {
	logger := logging.L(ctx)

	// connect first so a rejected request still gets a JSON error
	results, err := h.Client.ChatCompletionStream(ctx, upstreamReq)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := sse.NewEncoder(w, rc.Flush)

	relay := transform.NewRelay(req.Model, func(ev anthropic.StreamEvent) error {
		return enc.WriteEvent(ev.Type, ev)
	})

	res, err := relay.Run(ctx, results)
	if err != nil {
		// client gone; nothing more can be written
		logger.Warn("stream_aborted",
			zap.String("message_id", relay.ID()),
			zap.Int("deltas", res.Deltas),
			zap.Duration("total_latency_ms", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	if err := enc.WriteDone(); err != nil {
		logger.Warn("stream_terminator_failed", zap.Error(err))
	}

	metrics.ObserveUsage(upstreamReq.Model, res.Usage.InputTokens, res.Usage.OutputTokens)
	metrics.MessagesTotal.WithLabelValues("stream", string(res.StopReason)).Inc()

	fields := []zap.Field{
		zap.String("message_id", relay.ID()),
		zap.String("stop_reason", string(res.StopReason)),
		zap.Int("deltas", res.Deltas),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Duration("total_latency_ms", time.Since(start)),
	}
	if res.UpstreamErr != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues(classify(res.UpstreamErr).Type).Inc()
		logger.Error("stream_upstream_failed", append(fields, zap.Error(res.UpstreamErr))...)
		return
	}
	logger.Info("message_completed", fields...)
}

func stopLabel(r *anthropic.StopReason) string {
	if r == nil {
		return ""
	}
	return string(*r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
