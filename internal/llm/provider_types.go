package llm

// Request shape we send to upstream (OpenAI-style).
type providerChatRequest struct {
	Model         string                 `json:"model"`
	Messages      []providerMessage      `json:"messages"`
	Temperature   float64                `json:"temperature"`
	TopP          *float64               `json:"top_p,omitempty"`
	MaxTokens     int                    `json:"max_tokens"`
	Stop          []string               `json:"stop,omitempty"`
	Stream        bool                   `json:"stream,omitempty"`
	StreamOptions *providerStreamOptions `json:"stream_options,omitempty"`
}

type providerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type providerStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type providerReplyMessage struct {
	Role      string  `json:"role"`
	Content   *string `json:"content"`
	Reasoning *string `json:"reasoning,omitempty"`
}

// Choice for non-streaming responses.
type providerChatChoice struct {
	Index        int                  `json:"index"`
	Message      providerReplyMessage `json:"message"`
	FinishReason string               `json:"finish_reason,omitempty"`
}

type providerUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type providerChatResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []providerChatChoice `json:"choices"`
	Usage   *providerUsage       `json:"usage,omitempty"`
	// Some providers report failures with a 200 status.
	Error *providerError `json:"error,omitempty"`
}

type providerError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"`
}

type providerErrorResponse struct {
	Error providerError `json:"error"`
}

// Chunk shape for streaming responses (each SSE "data:" event).
type providerStreamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *providerUsage `json:"usage,omitempty"`
	Error *providerError `json:"error,omitempty"`
}

func newProviderRequest(req *ChatRequest, stream bool) providerChatRequest {
	msgs := make([]providerMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, providerMessage{Role: m.Role, Content: m.Content})
	}

	pReq := providerChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if stream {
		pReq.StreamOptions = &providerStreamOptions{IncludeUsage: true}
	}
	return pReq
}

func (u *providerUsage) toUsage() *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
