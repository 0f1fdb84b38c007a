package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/cryptomind-desk/internal/identity"
	"github.com/ashureev/cryptomind-desk/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	PublishToken   string
	// RateLimiter throttles the ingest routes; nil disables throttling.
	RateLimiter *middleware.RateLimiter
	// Feed serves GET /api/stream.
	Feed http.Handler
	// Events serves GET /ws/events.
	Events http.Handler
	// Board serves every path no other route claims.
	Board http.Handler
}

// NewRouter builds the desk's route table. Read routes are public; the
// ingest routes require the publish token.
func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(opts.AllowedOrigins))

	r.Get("/health", h.Health)

	r.Get("/api/transcript", h.ListMessages)
	r.Get("/api/analyses", h.ListAnalyses)
	r.Get("/api/analyses/orphans", h.ListOrphans)
	r.Get("/api/analyses/history", h.ListHistory)
	r.Get("/api/analyses/{id}", h.GetAnalysis)
	r.Get("/api/messages/{id}/analysis", h.GetMessageAnalysis)
	if opts.Feed != nil {
		r.Get("/api/stream", opts.Feed.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(opts.PublishToken))
		if opts.RateLimiter != nil {
			r.Use(middleware.RateLimit(opts.RateLimiter))
		}
		r.Post("/api/events/{topic}", h.PublishEvent)
		r.Post("/api/transcript", h.AppendMessage)
		if opts.Events != nil {
			r.Get("/ws/events", opts.Events.ServeHTTP)
		}
	})

	if opts.Board != nil {
		r.Handle("/*", opts.Board)
	}

	return r
}
