package transform

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/llm"
)

// NewMessageID returns an opaque id of the form msg_<24 hex chars>.
func NewMessageID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "msg_" + hex[:24]
}

// StopReason maps a chat-completions finish_reason onto the Messages API
// enumeration. Unlisted reasons become end_turn.
func StopReason(finishReason string) anthropic.StopReason {
	switch finishReason {
	case "stop":
		return anthropic.StopEndTurn
	case "length":
		return anthropic.StopMaxTokens
	case "content_filter":
		return anthropic.StopStopSequence
	default:
		return anthropic.StopEndTurn
	}
}

// BuildMessagesResponse converts a completed upstream reply. originalModel
// is echoed back so the caller never sees the upstream model name.
func BuildMessagesResponse(resp *llm.ChatResponse, originalModel string) (*anthropic.MessagesResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in upstream reply", llm.ErrMalformedResponse)
	}

	choice := resp.Choices[0]
	text := choice.Message.Content
	if text == "" {
		// reasoning models sometimes put the whole answer here
		text = choice.Message.Reasoning
	}

	var usage anthropic.Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}

	reason := StopReason(choice.FinishReason)
	return &anthropic.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       anthropic.RoleAssistant,
		Content:    []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: text}},
		Model:      originalModel,
		StopReason: &reason,
		Usage:      usage,
	}, nil
}
