package middleware

import (
	"net/http"
	"runtime/debug"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/pkg/logging/logging"

	"go.uber.org/zap"
)

// Recoverer turns a handler panic into a 500 api_error envelope.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// let the server abort the connection
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logging.L(r.Context()).Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)

				anthropic.WriteError(w, http.StatusInternalServerError, anthropic.ErrAPI, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
