// Package transform converts between the Messages API shape and the
// chat-completions shape. Everything here is pure: no I/O, no shared state.
package transform

import (
	"strings"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/llm"
)

// DefaultTemperature is sent upstream when the client leaves temperature
// unset, matching the Messages API default.
const DefaultTemperature = 1.0

// ModelResolver maps a client model name to an upstream model name.
type ModelResolver interface {
	Resolve(clientModel string) string
}

// BuildUpstreamRequest builds the chat-completions payload for req. It
// assumes req has passed Validate.
func BuildUpstreamRequest(req *anthropic.MessagesRequest, models ModelResolver) *llm.ChatRequest {
	msgs := make([]llm.ChatMessage, 0, len(req.Messages)+1)

	if req.System != nil && req.System.Set {
		if system := FlattenContent(req.System.Content); system != "" {
			msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
		}
	}

	for _, m := range req.Messages {
		msgs = append(msgs, llm.ChatMessage{
			Role:    m.Role,
			Content: FlattenContent(m.Content),
		})
	}

	out := &llm.ChatRequest{
		Model:       models.Resolve(req.Model),
		Messages:    msgs,
		Temperature: DefaultTemperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if len(req.StopSequences) > 0 {
		out.Stop = append([]string(nil), req.StopSequences...)
	}
	return out
}

// FlattenContent concatenates the text blocks of c in order, with no
// separator. Non-text blocks are dropped.
func FlattenContent(c anthropic.Content) string {
	if !c.IsBlocks {
		return c.Text
	}

	var sb strings.Builder
	for _, block := range c.Blocks {
		switch block.Type {
		case anthropic.BlockText:
			sb.WriteString(block.Text)
		case anthropic.BlockImage, anthropic.BlockToolUse, anthropic.BlockToolResult, anthropic.BlockThinking:
			// not representable as a flat string
		default:
			// unknown block type
		}
	}
	return sb.String()
}
