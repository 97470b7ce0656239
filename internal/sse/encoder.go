package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes SSE frames, flushing after each one when a flush func is
// supplied.
type Encoder struct {
	w     io.Writer
	flush func() error
}

func NewEncoder(w io.Writer, flush func() error) *Encoder {
	return &Encoder{w: w, flush: flush}
}

// WriteEvent writes one named event with a JSON payload.
func (e *Encoder) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if name != "" {
		if _, err := fmt.Fprintf(e.w, "event: %s\n", name); err != nil {
			return fmt.Errorf("write SSE event name: %w", err)
		}
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return e.doFlush()
}

// WriteDone writes the data: [DONE] terminator.
func (e *Encoder) WriteDone() error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", DoneSentinel); err != nil {
		return fmt.Errorf("write SSE terminator: %w", err)
	}
	return e.doFlush()
}

func (e *Encoder) doFlush() error {
	if e.flush == nil {
		return nil
	}
	return e.flush()
}
