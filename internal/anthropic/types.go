// Package anthropic holds the Messages API wire types the proxy presents to
// its clients.
package anthropic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Content block types. Only text is translated; anything else is decoded so
// callers can see it and skip it.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// ContentBlock is one tagged unit of message content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content is either a plain string or an ordered list of content blocks.
type Content struct {
	Text   string
	Blocks []ContentBlock
	// IsBlocks distinguishes `[]` from `""`.
	IsBlocks bool
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string content: %w", err)
		}
		*c = Content{Text: s}
		return nil
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return fmt.Errorf("decode content blocks: %w", err)
		}
		*c = Content{Blocks: blocks, IsBlocks: true}
		return nil
	default:
		return errors.New("content must be a string or an array of content blocks")
	}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsBlocks {
		if c.Blocks == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// ClientMessage is a single conversation turn.
type ClientMessage struct {
	Role    string  `json:"role" validate:"required,oneof=user assistant system"`
	Content Content `json:"content"`
}

// SystemPrompt accepts the string form and the text-block array form of
// the top-level system field.
type SystemPrompt struct {
	Content
	Set bool
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = SystemPrompt{}
		return nil
	}
	if err := s.Content.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("system: %w", err)
	}
	s.Set = true
	return nil
}

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model" validate:"required"`
	Messages      []ClientMessage `json:"messages" validate:"required,min=1,dive"`
	MaxTokens     *int            `json:"max_tokens" validate:"required,gt=0"`
	Temperature   *float64        `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP          *float64        `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	System        *SystemPrompt   `json:"system,omitempty"`
}

// StopReason is the terminal cause of generation.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
	// StopError marks a stream the upstream abandoned before finishing.
	StopError StopReason = "error"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse is the non-streaming reply, and the message carried by
// message_start.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *StopReason    `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}
