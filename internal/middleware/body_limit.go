package middleware

import (
	"net/http"

	"claude-code-proxy/internal/anthropic"
)

// MaxBodySize caps the request body at n bytes. Requests announcing a larger
// Content-Length are rejected up front; bodies that grow past the limit fail
// on read with *http.MaxBytesError.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				anthropic.WriteError(w, http.StatusRequestEntityTooLarge, anthropic.ErrRequestTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
