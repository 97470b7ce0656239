package transform

import (
	"context"
	"errors"
	"time"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/llm"
)

// ErrRelayUsed is returned when Run is called on a relay that already ran.
var ErrRelayUsed = errors.New("transform: relay already used")

// Emitter delivers one client-facing event. An error aborts the relay.
type Emitter func(anthropic.StreamEvent) error

type relayState int

const (
	stateNotStarted relayState = iota
	stateStreaming
	// finish_reason seen; waiting for usage or end of stream
	stateFinishing
	stateFinished
)

const textBlockIndex = 0

// DefaultUsageWait bounds how long the relay holds the closing events
// after a finish_reason while it waits for the trailing usage chunk.
const DefaultUsageWait = 2 * time.Second

// RelayResult summarises a finished relay.
type RelayResult struct {
	StopReason anthropic.StopReason
	Usage      anthropic.Usage
	Deltas     int
	// UpstreamErr is the upstream failure that cut the stream short. The
	// client still received a complete event sequence.
	UpstreamErr error
}

// Relay turns one upstream chunk sequence into one Messages API event
// sequence. It is single-use and not safe for concurrent use.
type Relay struct {
	id    string
	model string
	emit  Emitter

	usageWait time.Duration

	state        relayState
	blockStopped bool
	finishReason string
	usage        *llm.Usage
	result       RelayResult
}

func NewRelay(originalModel string, emit Emitter) *Relay {
	return &Relay{
		id:        NewMessageID(),
		model:     originalModel,
		emit:      emit,
		usageWait: DefaultUsageWait,
	}
}

// ID is the message id announced in message_start.
func (r *Relay) ID() string { return r.id }

// Run consumes upstream until the stream closes. Events are emitted in the
// order: message_start, content_block_start, zero or more
// content_block_delta, content_block_stop, message_delta, message_stop.
//
// When ctx is cancelled the client is gone: Run returns ctx.Err() without
// emitting anything further. When ctx hits its deadline the client is still
// there, so the event sequence is closed before Run returns. The caller is
// expected to have tied the upstream connection to the same context. A
// failed emit is returned as is.
func (r *Relay) Run(ctx context.Context, upstream <-chan llm.StreamResult) (RelayResult, error) {
	if r.state != stateNotStarted {
		return RelayResult{}, ErrRelayUsed
	}

	var (
		usageTimer   *time.Timer
		usageTimeout <-chan time.Time
	)
	defer func() {
		if usageTimer != nil {
			usageTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return r.expire(ctx.Err())
		case <-usageTimeout:
			if err := r.finish(StopReason(r.finishReason)); err != nil {
				r.state = stateFinished
				return r.result, err
			}
			return r.result, nil
		case res, ok := <-upstream:
			var err error
			switch {
			case !ok && ctx.Err() != nil:
				return r.expire(ctx.Err())
			case !ok:
				err = r.finish(r.closingReason(false))
			case res.Err != nil && r.state == stateFinishing:
				// generation already finished; only the usage tail is lost
				err = r.finish(StopReason(r.finishReason))
			case res.Err != nil:
				r.result.UpstreamErr = res.Err
				err = r.finish(anthropic.StopError)
			case res.Done:
				err = r.finish(r.closingReason(true))
			case res.Chunk != nil:
				err = r.handle(res.Chunk)
			}
			if err != nil {
				r.state = stateFinished
				return r.result, err
			}
			if r.state == stateFinished {
				return r.result, nil
			}
			if r.state == stateFinishing && usageTimer == nil {
				usageTimer = time.NewTimer(r.usageWait)
				usageTimeout = usageTimer.C
			}
		}
	}
}

// expire ends the relay once ctx is done.
func (r *Relay) expire(ctxErr error) (RelayResult, error) {
	if !errors.Is(ctxErr, context.DeadlineExceeded) {
		r.state = stateFinished
		return r.result, ctxErr
	}

	reason := StopReason(r.finishReason)
	if r.state != stateFinishing {
		r.result.UpstreamErr = ctxErr
		reason = anthropic.StopError
	}
	if err := r.finish(reason); err != nil {
		r.state = stateFinished
		return r.result, err
	}
	return r.result, nil
}

func (r *Relay) handle(chunk *llm.StreamChunk) error {
	if err := r.start(); err != nil {
		return err
	}

	if chunk.Usage != nil {
		u := *chunk.Usage
		r.usage = &u
	}

	if r.state == stateFinishing {
		// text after finish_reason is not relayed
		if r.usage != nil {
			return r.finish(StopReason(r.finishReason))
		}
		return nil
	}

	if chunk.Delta != "" {
		if err := r.emit(anthropic.ContentBlockDelta(textBlockIndex, chunk.Delta)); err != nil {
			return err
		}
		r.result.Deltas++
	}

	if chunk.FinishReason != "" {
		r.finishReason = chunk.FinishReason
		r.state = stateFinishing
		if err := r.stopBlock(); err != nil {
			return err
		}
		if r.usage != nil {
			return r.finish(StopReason(r.finishReason))
		}
	}
	return nil
}

// closingReason picks the stop reason when the upstream ends without a
// usage chunk. A [DONE] without finish_reason counts as "stop"; a bare
// close without either is an abnormal end.
func (r *Relay) closingReason(sawDone bool) anthropic.StopReason {
	switch {
	case r.finishReason != "":
		return StopReason(r.finishReason)
	case sawDone:
		return StopReason("stop")
	default:
		return anthropic.StopError
	}
}

func (r *Relay) start() error {
	if r.state != stateNotStarted {
		return nil
	}
	r.state = stateStreaming

	msg := anthropic.MessagesResponse{
		ID:      r.id,
		Type:    "message",
		Role:    anthropic.RoleAssistant,
		Content: []anthropic.ContentBlock{},
		Model:   r.model,
	}
	if err := r.emit(anthropic.MessageStart(msg)); err != nil {
		return err
	}
	return r.emit(anthropic.ContentBlockStart(textBlockIndex))
}

func (r *Relay) stopBlock() error {
	if r.blockStopped {
		return nil
	}
	r.blockStopped = true
	return r.emit(anthropic.ContentBlockStop(textBlockIndex))
}

func (r *Relay) finish(reason anthropic.StopReason) error {
	if err := r.start(); err != nil {
		return err
	}
	if err := r.stopBlock(); err != nil {
		return err
	}

	var usage anthropic.Usage
	if r.usage != nil {
		usage.InputTokens = r.usage.PromptTokens
		usage.OutputTokens = r.usage.CompletionTokens
	}
	r.result.StopReason = reason
	r.result.Usage = usage

	if err := r.emit(anthropic.MessageDeltaEvent(reason, usage)); err != nil {
		return err
	}
	if err := r.emit(anthropic.MessageStop()); err != nil {
		return err
	}
	r.state = stateFinished
	return nil
}
