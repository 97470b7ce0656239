package transform

import (
	"encoding/json"
	"testing"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/llm"
	"claude-code-proxy/internal/mapper"
)

func decodeRequest(t *testing.T, body string) *anthropic.MessagesRequest {
	t.Helper()
	var req anthropic.MessagesRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("validate request: %v", err)
	}
	return &req
}

func TestBuildUpstreamRequestResolvesTier(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{"model":"claude-haiku","messages":[{"role":"user","content":"Hello"}],"max_tokens":50,"stream":false}`)
	m := mapper.New(mapper.Config{Table: mapper.DefaultTable()})

	out := BuildUpstreamRequest(req, m)

	if out.Model != "moonshotai/kimi-k2:free" {
		t.Fatalf("expected haiku tier model, got %q", out.Model)
	}
	if out.MaxTokens != 50 {
		t.Fatalf("max_tokens not passed through: %d", out.MaxTokens)
	}
	if out.Temperature != DefaultTemperature {
		t.Fatalf("expected default temperature, got %v", out.Temperature)
	}
	if out.Stream {
		t.Fatalf("stream flag must be preserved as false")
	}
	if len(out.Messages) != 1 || out.Messages[0] != (llm.ChatMessage{Role: "user", Content: "Hello"}) {
		t.Fatalf("unexpected messages: %#v", out.Messages)
	}
}

func TestBuildUpstreamRequestSystemPrepended(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{
		"model":"claude-sonnet",
		"system":"be brief",
		"max_tokens":10,
		"temperature":0,
		"top_p":0.5,
		"stop_sequences":["END"],
		"stream":true,
		"messages":[
			{"role":"system","content":"inline system"},
			{"role":"user","content":"q1"},
			{"role":"assistant","content":"a1"},
			{"role":"user","content":"q2"}
		]}`)

	out := BuildUpstreamRequest(req, mapper.New(mapper.Config{}))

	wantRoles := []string{"system", "system", "user", "assistant", "user"}
	wantContent := []string{"be brief", "inline system", "q1", "a1", "q2"}
	if len(out.Messages) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(out.Messages))
	}
	for i, m := range out.Messages {
		if m.Role != wantRoles[i] || m.Content != wantContent[i] {
			t.Fatalf("messages[%d] = %#v, want role=%s content=%s", i, m, wantRoles[i], wantContent[i])
		}
	}
	if out.Temperature != 0 {
		t.Fatalf("explicit zero temperature must pass through, got %v", out.Temperature)
	}
	if out.TopP == nil || *out.TopP != 0.5 {
		t.Fatalf("top_p not passed through: %v", out.TopP)
	}
	if len(out.Stop) != 1 || out.Stop[0] != "END" {
		t.Fatalf("stop sequences not mapped: %v", out.Stop)
	}
	if !out.Stream {
		t.Fatalf("stream flag must be preserved as true")
	}
}

func TestBuildUpstreamRequestNoSystem(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{"model":"x","max_tokens":5,"messages":[{"role":"user","content":"hi"}]}`)
	out := BuildUpstreamRequest(req, mapper.New(mapper.Config{}))

	for _, m := range out.Messages {
		if m.Role == llm.RoleSystem {
			t.Fatalf("unexpected synthetic system message: %#v", out.Messages)
		}
	}
}

func TestBuildUpstreamRequestSystemBlocks(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{"model":"x","max_tokens":5,
		"system":[{"type":"text","text":"You are "},{"type":"text","text":"Claude."}],
		"messages":[{"role":"user","content":"hi"}]}`)
	out := BuildUpstreamRequest(req, mapper.New(mapper.Config{}))

	if out.Messages[0].Role != llm.RoleSystem || out.Messages[0].Content != "You are Claude." {
		t.Fatalf("unexpected system message: %#v", out.Messages[0])
	}
}

func TestFlattenContentDropsNonText(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{"model":"x","max_tokens":5,"messages":[{"role":"user","content":[
		{"type":"text","text":"look at "},
		{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}},
		{"type":"text","text":"this"},
		{"type":"tool_result","tool_use_id":"t1","content":"42"},
		{"type":"future_block","text":"ignored"}
	]}]}`)

	out := BuildUpstreamRequest(req, mapper.New(mapper.Config{}))
	if got := out.Messages[0].Content; got != "look at this" {
		t.Fatalf("unexpected flattened content %q", got)
	}
}

func TestBuildUpstreamRequestPreservesOrder(t *testing.T) {
	t.Parallel()

	req := decodeRequest(t, `{"model":"x","max_tokens":5,"messages":[
		{"role":"user","content":"same"},
		{"role":"user","content":"same"},
		{"role":"assistant","content":[]},
		{"role":"user","content":"last"}
	]}`)
	out := BuildUpstreamRequest(req, mapper.New(mapper.Config{}))

	if len(out.Messages) != 4 {
		t.Fatalf("messages were merged or dropped: %#v", out.Messages)
	}
	if out.Messages[2].Role != llm.RoleAssistant || out.Messages[2].Content != "" {
		t.Fatalf("unexpected third message: %#v", out.Messages[2])
	}
	if out.Messages[3].Content != "last" {
		t.Fatalf("order not preserved: %#v", out.Messages)
	}
}
