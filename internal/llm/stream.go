package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"claude-code-proxy/internal/sse"
)

// ErrStreamTruncated is delivered when the upstream body ends without a
// finish reason or [DONE] terminator.
var ErrStreamTruncated = errors.New("llmclient: upstream stream ended unexpectedly")

func (c *client) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	bodyBytes, err := c.encodeRequest(req, true)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("llm stream request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	// Cancelling ctx tears down the upstream connection, which is how a
	// client disconnect stops the stream.
	ctx, cancel := context.WithCancel(ctx)

	// only the connect phase is retried

	resp, err := c.send(ctx, bodyBytes)
	if err != nil {
		cancel()
		c.logger.Error("llm stream connect failed",
			zap.String("model", req.Model),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()

		uerr := readUpstreamError(resp)
		c.logger.Error("llm stream provider error",
			zap.String("model", req.Model),
			zap.Int("status", uerr.StatusCode),
			zap.String("error_type", uerr.Type),
			zap.String("error_message", uerr.Message),
		)
		return nil, uerr
	}

	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel()
		defer resp.Body.Close()

		c.readStream(ctx, req.Model, resp.Body, results)
	}()

	return results, nil
}

// readStream decodes SSE chunks from body and forwards them on results.
func (c *client) readStream(ctx context.Context, model string, body io.Reader, results chan<- StreamResult) {
	send := func(r StreamResult) bool {
		select {
		case <-ctx.Done():
			c.logger.Info("llm stream cancelled",
				zap.String("model", model),
				zap.Error(ctx.Err()),
			)
			return false
		case results <- r:
			return true
		}
	}

	dec := sse.NewDecoder(body)
	chunkCount := 0
	finished := false

	for dec.Next() {
		var chunk providerStreamChunk
		if err := json.Unmarshal(dec.Data(), &chunk); err != nil {
			send(StreamResult{Err: fmt.Errorf("%w: unmarshal stream chunk: %v", ErrMalformedResponse, err)})
			return
		}

		if chunk.Error != nil && chunk.Error.Message != "" {
			send(StreamResult{Err: &UpstreamError{
				StatusCode: http.StatusBadGateway,
				Type:       chunk.Error.Type,
				Message:    chunk.Error.Message,
			}})
			return
		}

		sc := &StreamChunk{Usage: chunk.Usage.toUsage()}
		if len(chunk.Choices) > 0 {
			// only the first choice is relayed
			choice := chunk.Choices[0]
			sc.Index = choice.Index
			sc.Delta = choice.Delta.Content
			if choice.FinishReason != nil {
				sc.FinishReason = *choice.FinishReason
				finished = true
			}
		}
		chunkCount++

		if !send(StreamResult{Chunk: sc}) {
			return
		}
	}

	if err := dec.Err(); err != nil {
		// a read error after cancellation is expected, not worth reporting
		if ctx.Err() == nil {
			send(StreamResult{Err: err})
		}
		return
	}

	if dec.Done() {
		c.logger.Info("llm stream received [DONE]",
			zap.String("model", model),
			zap.Int("chunks", chunkCount),
		)
		send(StreamResult{Done: true})
		return
	}

	c.logger.Info("llm stream completed (EOF)",
		zap.String("model", model),
		zap.Int("chunks", chunkCount),
		zap.Bool("finished", finished),
	)
	if !finished {
		send(StreamResult{Err: ErrStreamTruncated})
	}
}
