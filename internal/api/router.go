// Package api exposes a queue over HTTP.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/queueing/internal/auth"
	"github.com/sungwon/queueing/internal/queueing"
)

type routerOptions struct {
	keys *auth.KeySet
}

// RouterOption configures NewRouter.
type RouterOption func(*routerOptions)

// WithAuth requires a bearer API key from keys on every /api/v1 route.
// An empty key set leaves the routes open.
func WithAuth(keys *auth.KeySet) RouterOption {
	return func(o *routerOptions) { o.keys = keys }
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(provider *queueing.Provider, log zerolog.Logger, opts ...RouterOption) *chi.Mux {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	client := provider.CreateClient()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	r.Get("/healthz", HealthzHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/messages", func(r chi.Router) {
		if o.keys != nil && o.keys.Len() > 0 {
			r.Use(auth.BearerAuth(o.keys.Lookup))
		}
		r.Post("/", SendMessageHandler(client))
		r.Delete("/", ClearMessagesHandler(provider))
		r.Post("/receive", ReceiveMessageHandler(client))
		r.Post("/commit", CommitMessageHandler(client))
		r.Post("/abandon", AbandonMessageHandler(client))
	})

	return r
}
