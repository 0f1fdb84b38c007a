package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/identity"
)

// PublishEvent handles POST /api/events/{topic}. The body is the raw event
// payload. Events are validated here and handed to the bus, whose inline
// handlers apply them to the engine before the response is written.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(chi.URLParam(r, "topic"))
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	ev, err := analysis.DecodeEvent(topic, body)
	if err != nil {
		h.Logger.Warn("[API] Rejected event", "topic", topic, "error", err)
		fail(w, err)
		return
	}

	env := bus.Envelope{
		Topic:      topic,
		Payload:    body,
		Publisher:  identity.PublisherFromContext(r.Context()),
		ReceivedAt: time.Now(),
	}
	for _, sink := range h.EnvelopeSinks {
		sink.Envelope(env)
	}
	delivered := h.Hub.Publish(env)

	JSON(w, http.StatusAccepted, map[string]any{
		"topic":     topic,
		"kind":      ev.Kind.String(),
		"symbol":    ev.Symbol,
		"delivered": delivered,
	})
}
