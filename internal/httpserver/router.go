package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"claude-code-proxy/internal/anthropic"
	"claude-code-proxy/internal/handlers"
	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/internal/middleware"
)

// Options tunes the per-request limits of the router.
type Options struct {
	RequestTimeout time.Duration // <= 0 disables the bound
	MaxBodyBytes   int64
}

const defaultMaxBodyBytes = 10 << 20

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, messagesHandler *handlers.MessagesHandler, opts Options) {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer()) // panic recovery

	// Messages API, also served under /anthropic for clients configured with
	// that base path
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Use(middleware.MaxBodySize(maxBody))

		r.Post("/v1/messages", messagesHandler.Messages)
		r.Post("/anthropic/v1/messages", messagesHandler.Messages)
	})

	// health check
	r.Get("/health", handlers.Health)

	r.Handle("/metrics", metrics.Handler())

	r.NotFound(notFound)
}

// notFound answers unknown routes with the Messages API error envelope.
func notFound(w http.ResponseWriter, r *http.Request) {
	anthropic.WriteError(w, http.StatusNotFound, anthropic.ErrNotFound, "route not found: "+r.URL.Path)
}
