// Package api provides HTTP handlers for the desk API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/domain"
	"github.com/ashureev/cryptomind-desk/internal/store"
	"github.com/ashureev/cryptomind-desk/internal/transcript"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// MessageSink receives every transcript message the desk accepts.
type MessageSink interface {
	Message(msg domain.ChatMessage)
}

// EnvelopeSink receives every event the desk accepts over HTTP.
type EnvelopeSink interface {
	Envelope(env bus.Envelope)
}

// Deps are the handler's collaborators. Repo may be nil when the archive
// is disabled.
type Deps struct {
	Engine         *analysis.Engine
	Transcript     *transcript.Log
	Hub            *bus.Hub
	Repo           store.Repository
	ConversationID string
	MessageSinks   []MessageSink
	EnvelopeSinks  []EnvelopeSink
	MaxBodySize    int64
	Logger         *slog.Logger
}

// Handler serves the desk's HTTP API.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBodySize <= 0 {
		deps.MaxBodySize = defaultMaxRequestBodySize
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.New()
	}
	return &Handler{Deps: deps}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorStatus maps package sentinels to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, analysis.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrMalformedEvent),
		errors.Is(err, transcript.ErrInvalidMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status errorStatus picks for it.
func fail(w http.ResponseWriter, err error) {
	Error(w, errorStatus(err), err.Error())
}

// readBody reads a size-limited request body. It writes the error
// response itself and returns false on failure.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return body, true
}
