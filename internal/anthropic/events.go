package anthropic

// Stream event types, in the order a well-formed stream emits them.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
)

// StreamEvent is the tagged variant sent as one SSE frame. Type selects
// which of the optional fields are populated.
type StreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        *int              `json:"index,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        any               `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
}

// TextDelta is the delta of a content_block_delta event.
type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MessageDelta is the delta of a message_delta event.
type MessageDelta struct {
	StopReason   StopReason `json:"stop_reason"`
	StopSequence *string    `json:"stop_sequence"`
}

func MessageStart(msg MessagesResponse) StreamEvent {
	return StreamEvent{Type: EventMessageStart, Message: &msg}
}

func ContentBlockStart(index int) StreamEvent {
	return StreamEvent{
		Type:         EventContentBlockStart,
		Index:        &index,
		ContentBlock: &ContentBlock{Type: BlockText, Text: ""},
	}
}

func ContentBlockDelta(index int, text string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: TextDelta{Type: "text_delta", Text: text},
	}
}

func ContentBlockStop(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: &index}
}

func MessageDeltaEvent(reason StopReason, usage Usage) StreamEvent {
	return StreamEvent{
		Type:  EventMessageDelta,
		Delta: MessageDelta{StopReason: reason},
		Usage: &usage,
	}
}

func MessageStop() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}
