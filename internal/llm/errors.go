package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrMalformedResponse marks an upstream reply that could not be decoded
// into the expected shape, including a reply without choices.
var ErrMalformedResponse = errors.New("llmclient: malformed upstream response")

// ErrInvalidRequest and ErrRequestTooLarge reject a request before it is sent.
var (
	ErrInvalidRequest  = errors.New("llmclient: invalid request")
	ErrRequestTooLarge = errors.New("llmclient: request too large")
)

// UpstreamError is a non-2xx reply from the provider.
type UpstreamError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llmclient: upstream %d: %s (%s)", e.StatusCode, e.Message, e.Type)
	}
	return fmt.Sprintf("llmclient: upstream %d: %s", e.StatusCode, e.Message)
}

// readUpstreamError drains a failed response into an *UpstreamError,
// preferring the provider's structured error body.
func readUpstreamError(resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var perr providerErrorResponse
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		return &UpstreamError{
			StatusCode: resp.StatusCode,
			Type:       perr.Error.Type,
			Message:    perr.Error.Message,
		}
	}

	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Message:    truncate(string(body), 200),
	}
}
