package anthropic

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func decode(t *testing.T, body string) *MessagesRequest {
	t.Helper()
	var req MessagesRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &req
}

func TestContentDecodesStringAndBlocks(t *testing.T) {
	req := decode(t, `{
		"model": "claude-haiku",
		"max_tokens": 10,
		"messages": [
			{"role": "user", "content": "plain"},
			{"role": "assistant", "content": [{"type": "text", "text": "a"}, {"type": "image", "source": {}}]},
			{"role": "user", "content": []}
		]
	}`)

	if req.Messages[0].Content.IsBlocks || req.Messages[0].Content.Text != "plain" {
		t.Fatalf("unexpected string content %+v", req.Messages[0].Content)
	}
	blocks := req.Messages[1].Content.Blocks
	if len(blocks) != 2 || blocks[0].Type != BlockText || blocks[1].Type != BlockImage {
		t.Fatalf("unexpected blocks %+v", blocks)
	}
	if !req.Messages[2].Content.IsBlocks || len(req.Messages[2].Content.Blocks) != 0 {
		t.Fatalf("expected empty block list, got %+v", req.Messages[2].Content)
	}
}

func TestContentRejectsOtherShapes(t *testing.T) {
	var req MessagesRequest
	err := json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[{"role":"user","content":42}]}`), &req)
	if err == nil {
		t.Fatalf("expected error for numeric content")
	}
}

func TestContentMarshalKeepsShape(t *testing.T) {
	out, _ := json.Marshal(Content{Text: "hi"})
	if string(out) != `"hi"` {
		t.Fatalf("unexpected string form %s", out)
	}
	out, _ = json.Marshal(Content{IsBlocks: true})
	if string(out) != `[]` {
		t.Fatalf("unexpected empty block form %s", out)
	}
}

func TestSystemPrompt(t *testing.T) {
	req := decode(t, `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"x"}],"system":"be brief"}`)
	if req.System == nil || !req.System.Set || req.System.Text != "be brief" {
		t.Fatalf("unexpected system %+v", req.System)
	}

	req = decode(t, `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"x"}],"system":[{"type":"text","text":"a"}]}`)
	if req.System == nil || !req.System.IsBlocks || req.System.Blocks[0].Text != "a" {
		t.Fatalf("unexpected system blocks %+v", req.System)
	}

	req = decode(t, `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"x"}]}`)
	if req.System != nil {
		t.Fatalf("expected no system, got %+v", req.System)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"valid", `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"x"}]}`, ""},
		{"missing max_tokens", `{"model":"m","messages":[{"role":"user","content":"x"}]}`, "missing required field: max_tokens"},
		{"zero max_tokens", `{"model":"m","max_tokens":0,"messages":[{"role":"user","content":"x"}]}`, "max_tokens is out of range"},
		{"missing model", `{"max_tokens":1,"messages":[{"role":"user","content":"x"}]}`, "missing required field: model"},
		{"missing messages", `{"model":"m","max_tokens":1}`, "missing required field: messages"},
		{"empty messages", `{"model":"m","max_tokens":1,"messages":[]}`, "messages must contain at least 1 item"},
		{"bad role", `{"model":"m","max_tokens":1,"messages":[{"role":"tool","content":"x"}]}`, "messages[0].role must be one of"},
		{"temperature", `{"model":"m","max_tokens":1,"temperature":3,"messages":[{"role":"user","content":"x"}]}`, "temperature is out of range"},
		{"top_p", `{"model":"m","max_tokens":1,"top_p":1.5,"messages":[{"role":"user","content":"x"}]}`, "top_p is out of range"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := decode(t, tc.body).Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !strings.Contains(verr.Message, tc.want) {
				t.Fatalf("expected %q in %q", tc.want, verr.Message)
			}
		})
	}
}

func TestStreamEventShapes(t *testing.T) {
	out, _ := json.Marshal(ContentBlockDelta(0, "Hi"))
	if string(out) != `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}` {
		t.Fatalf("unexpected delta event %s", out)
	}

	out, _ = json.Marshal(MessageStop())
	if string(out) != `{"type":"message_stop"}` {
		t.Fatalf("unexpected stop event %s", out)
	}

	out, _ = json.Marshal(MessageDeltaEvent(StopMaxTokens, Usage{InputTokens: 1, OutputTokens: 2}))
	if string(out) != `{"type":"message_delta","delta":{"stop_reason":"max_tokens","stop_sequence":null},"usage":{"input_tokens":1,"output_tokens":2}}` {
		t.Fatalf("unexpected message_delta event %s", out)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, 429, ErrRateLimit, "slow down")

	if rr.Code != 429 {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	want := `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`
	if strings.TrimSpace(rr.Body.String()) != want {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}
