package transform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/llm"
)

type recorder struct {
	events []anthropic.StreamEvent
}

func (r *recorder) emit(ev anthropic.StreamEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) texts() []string {
	var out []string
	for _, ev := range r.events {
		if d, ok := ev.Delta.(anthropic.TextDelta); ok {
			out = append(out, d.Text)
		}
	}
	return out
}

func (r *recorder) messageDelta(t *testing.T) (anthropic.MessageDelta, anthropic.Usage) {
	t.Helper()
	for _, ev := range r.events {
		if ev.Type == anthropic.EventMessageDelta {
			return ev.Delta.(anthropic.MessageDelta), *ev.Usage
		}
	}
	t.Fatalf("no message_delta event in %v", r.types())
	return anthropic.MessageDelta{}, anthropic.Usage{}
}

func feed(results ...llm.StreamResult) <-chan llm.StreamResult {
	ch := make(chan llm.StreamResult, len(results))
	for _, r := range results {
		ch <- r
	}
	close(ch)
	return ch
}

func chunk(delta, finish string) llm.StreamResult {
	return llm.StreamResult{Chunk: &llm.StreamChunk{Delta: delta, FinishReason: finish}}
}

func wantShape(t *testing.T, got []string, deltas int) {
	t.Helper()
	want := []string{anthropic.EventMessageStart, anthropic.EventContentBlockStart}
	for i := 0; i < deltas; i++ {
		want = append(want, anthropic.EventContentBlockDelta)
	}
	want = append(want, anthropic.EventContentBlockStop, anthropic.EventMessageDelta, anthropic.EventMessageStop)

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("event order\n got: %v\nwant: %v", got, want)
	}
}

func TestRelaySkipsEmptyDeltas(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	relay := NewRelay("claude-sonnet", rec.emit)

	res, err := relay.Run(context.Background(), feed(
		chunk("Hi", ""),
		chunk(" there", ""),
		chunk("", ""),
		chunk("!", ""),
		chunk("", "stop"),
		llm.StreamResult{Done: true},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 3)
	if got := strings.Join(rec.texts(), "|"); got != "Hi| there|!" {
		t.Fatalf("unexpected deltas %q", got)
	}

	start := rec.events[0].Message
	if start.Model != "claude-sonnet" || start.ID != relay.ID() || len(start.Content) != 0 {
		t.Fatalf("unexpected message_start payload: %#v", start)
	}
	if *rec.events[1].Index != 0 || rec.events[1].ContentBlock.Type != anthropic.BlockText {
		t.Fatalf("unexpected content_block_start: %#v", rec.events[1])
	}

	delta, _ := rec.messageDelta(t)
	if delta.StopReason != anthropic.StopEndTurn {
		t.Fatalf("unexpected stop reason %s", delta.StopReason)
	}
	if res.Deltas != 3 || res.StopReason != anthropic.StopEndTurn || res.UpstreamErr != nil {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestRelayMatchesNonStreamingText(t *testing.T) {
	t.Parallel()

	parts := []string{"The ", "quick ", "", "brown ", "fox"}
	results := make([]llm.StreamResult, 0, len(parts)+1)
	for _, p := range parts {
		results = append(results, chunk(p, ""))
	}
	results = append(results, chunk("", "length"))

	rec := &recorder{}
	if _, err := NewRelay("m", rec.emit).Run(context.Background(), feed(results...)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	full, err := BuildMessagesResponse(&llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.ChatMessage{Content: strings.Join(parts, "")}, FinishReason: "length"}},
	}, "m")
	if err != nil {
		t.Fatalf("BuildMessagesResponse: %v", err)
	}

	if got := strings.Join(rec.texts(), ""); got != full.Content[0].Text {
		t.Fatalf("stream text %q != non-stream text %q", got, full.Content[0].Text)
	}
	delta, _ := rec.messageDelta(t)
	if delta.StopReason != *full.StopReason {
		t.Fatalf("stop reasons differ: %s vs %s", delta.StopReason, *full.StopReason)
	}
}

func TestRelayWaitsForTrailingUsage(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	res, err := NewRelay("m", rec.emit).Run(context.Background(), feed(
		chunk("ok", "stop"),
		llm.StreamResult{Chunk: &llm.StreamChunk{Usage: &llm.Usage{PromptTokens: 12, CompletionTokens: 1}}},
		llm.StreamResult{Done: true},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 1)
	_, usage := rec.messageDelta(t)
	if usage != (anthropic.Usage{InputTokens: 12, OutputTokens: 1}) {
		t.Fatalf("usage not taken from upstream: %#v", usage)
	}
	if res.Usage != usage {
		t.Fatalf("result usage %#v != emitted %#v", res.Usage, usage)
	}
}

func TestRelayUsageOnFinishChunk(t *testing.T) {
	t.Parallel()

	upstream := make(chan llm.StreamResult, 1)
	upstream <- llm.StreamResult{Chunk: &llm.StreamChunk{
		Delta:        "done",
		FinishReason: "stop",
		Usage:        &llm.Usage{PromptTokens: 2, CompletionTokens: 1},
	}}
	// channel left open: the relay must finish without waiting for close

	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := NewRelay("m", rec.emit).Run(context.Background(), upstream); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("relay did not finish after finish_reason with usage")
	}
	wantShape(t, rec.types(), 1)
}

func TestRelayDoneWithoutFinishReason(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	if _, err := NewRelay("m", rec.emit).Run(context.Background(), feed(
		chunk("partial", ""),
		llm.StreamResult{Done: true},
	)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 1)
	delta, _ := rec.messageDelta(t)
	if delta.StopReason != anthropic.StopEndTurn {
		t.Fatalf("implicit stop should map to end_turn, got %s", delta.StopReason)
	}
}

func TestRelayUpstreamDrop(t *testing.T) {
	t.Parallel()

	dropErr := errors.New("connection reset by peer")
	rec := &recorder{}
	res, err := NewRelay("m", rec.emit).Run(context.Background(), feed(
		chunk("half a sen", ""),
		llm.StreamResult{Err: dropErr},
	))
	if err != nil {
		t.Fatalf("upstream failure must not fail the relay: %v", err)
	}

	wantShape(t, rec.types(), 1)
	delta, _ := rec.messageDelta(t)
	if delta.StopReason != anthropic.StopError {
		t.Fatalf("expected abnormal stop reason, got %s", delta.StopReason)
	}
	if !errors.Is(res.UpstreamErr, dropErr) {
		t.Fatalf("expected upstream error in result, got %v", res.UpstreamErr)
	}
}

func TestRelayClosedWithoutAnyChunk(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	if _, err := NewRelay("m", rec.emit).Run(context.Background(), feed()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 0)
	delta, _ := rec.messageDelta(t)
	if delta.StopReason != anthropic.StopError {
		t.Fatalf("expected abnormal stop reason, got %s", delta.StopReason)
	}
}

func TestRelayIgnoresTextAfterFinish(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	if _, err := NewRelay("m", rec.emit).Run(context.Background(), feed(
		chunk("a", "stop"),
		chunk("late", ""),
	)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 1)
	if got := strings.Join(rec.texts(), ""); got != "a" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestRelayCancellationIsSilent(t *testing.T) {
	t.Parallel()

	upstream := make(chan llm.StreamResult)
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	errCh := make(chan error, 1)
	go func() {
		_, err := NewRelay("m", rec.emit).Run(ctx, upstream)
		errCh <- err
	}()

	upstream <- chunk("first", "")
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("relay did not stop after cancellation")
	}

	for _, ty := range rec.types() {
		if ty == anthropic.EventMessageStop {
			t.Fatalf("no events should be written toward a gone client: %v", rec.types())
		}
	}
}

func TestRelayDeadlineClosesStream(t *testing.T) {
	t.Parallel()

	upstream := make(chan llm.StreamResult, 1)
	upstream <- chunk("Hi", "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := &recorder{}
	res, err := NewRelay("m", rec.emit).Run(ctx, upstream)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 1)
	delta, _ := rec.messageDelta(t)
	if delta.StopReason != anthropic.StopError {
		t.Fatalf("expected abnormal stop reason, got %s", delta.StopReason)
	}
	if !errors.Is(res.UpstreamErr, context.DeadlineExceeded) {
		t.Fatalf("expected deadline recorded as upstream error, got %v", res.UpstreamErr)
	}
}

func TestRelayDeadlineWhileAwaitingUsage(t *testing.T) {
	t.Parallel()

	upstream := make(chan llm.StreamResult, 1)
	upstream <- chunk("Hi", "length")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := &recorder{}
	relay := NewRelay("m", rec.emit)
	relay.usageWait = time.Minute

	res, err := relay.Run(ctx, upstream)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 1)
	if res.StopReason != anthropic.StopMaxTokens || res.UpstreamErr != nil {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestRelayStalledAfterFinish(t *testing.T) {
	t.Parallel()

	upstream := make(chan llm.StreamResult, 1)
	upstream <- chunk("Hi", "stop")

	rec := &recorder{}
	relay := NewRelay("m", rec.emit)
	relay.usageWait = 20 * time.Millisecond

	done := make(chan struct{})
	var (
		res RelayResult
		err error
	)
	go func() {
		defer close(done)
		res, err = relay.Run(context.Background(), upstream)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("relay kept waiting for usage after finish_reason")
	}
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 1)
	if res.StopReason != anthropic.StopEndTurn {
		t.Fatalf("unexpected stop reason %s", res.StopReason)
	}
	if _, usage := rec.messageDelta(t); usage.InputTokens != 0 || usage.OutputTokens != 0 {
		t.Fatalf("expected zero usage, got %#v", usage)
	}
}

func TestRelayReadErrorAfterFinish(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	res, err := NewRelay("m", rec.emit).Run(context.Background(), feed(
		chunk("Hi", "length"),
		llm.StreamResult{Err: errors.New("connection reset")},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantShape(t, rec.types(), 1)
	if res.StopReason != anthropic.StopMaxTokens {
		t.Fatalf("expected mapped stop reason, got %s", res.StopReason)
	}
	if res.UpstreamErr != nil {
		t.Fatalf("finished generation should not report an upstream error: %v", res.UpstreamErr)
	}
}

func TestRelayNotRestartable(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	relay := NewRelay("m", rec.emit)
	if _, err := relay.Run(context.Background(), feed(chunk("x", "stop"))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	n := len(rec.events)

	if _, err := relay.Run(context.Background(), feed(chunk("y", "stop"))); !errors.Is(err, ErrRelayUsed) {
		t.Fatalf("expected ErrRelayUsed, got %v", err)
	}
	if len(rec.events) != n {
		t.Fatalf("second Run emitted events")
	}
}

func TestRelayEmitFailure(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("broken pipe")
	calls := 0
	emit := func(anthropic.StreamEvent) error {
		calls++
		if calls == 3 {
			return writeErr
		}
		return nil
	}

	_, err := NewRelay("m", emit).Run(context.Background(), feed(chunk("a", ""), chunk("b", ""), chunk("", "stop")))
	if !errors.Is(err, writeErr) {
		t.Fatalf("expected write error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("relay kept emitting after a failed write: %d calls", calls)
	}
}
