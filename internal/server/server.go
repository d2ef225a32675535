// Package server exposes the snapshot store over HTTP: per-source and
// aggregate JSON endpoints plus the rendered report. Handlers only read
// the store; fetching is always asynchronous through the scheduler.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/boil-wsb/trending-service/internal/fetch"
	"github.com/boil-wsb/trending-service/internal/report"
	"github.com/boil-wsb/trending-service/internal/store"
)

// Trigger enqueues an on-demand fetch cycle; nil sources means all.
// It must not block.
type Trigger interface {
	Trigger(sources []string) bool
}

// Option configures the HTTP router.
type Option func(*routerConfig)

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	log         *slog.Logger
}

// WithMiddlewares adds middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(cfg *routerConfig) {
		cfg.log = log
	}
}

// New assembles the HTTP router over the store, registry, renderer, and
// scheduler trigger.
func New(st *store.Store, reg *fetch.Registry, rend *report.Renderer, trig Trigger, opts ...Option) *chi.Mux {
	cfg := &routerConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handlers{store: st, reg: reg, renderer: rend, trigger: trig, log: cfg.log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(cfg.log))
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/", h.root)
	r.Get("/report.html", h.report)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/status", h.status)
		r.Get("/trending", h.allSnapshots)
		r.Post("/refresh-all", h.refreshAll)
		r.Post("/refresh/{source}", h.refreshSource)
		r.Get("/{source}", h.snapshot)
	})

	return r
}

// loggingMiddleware logs each request with its status and duration.
func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
