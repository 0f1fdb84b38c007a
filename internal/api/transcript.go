package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

type appendMessageResponse struct {
	Message        domain.ChatMessage      `json:"message"`
	Added          bool                    `json:"added"`
	Classification string                  `json:"classification"`
	Session        *domain.AnalysisSession `json:"session,omitempty"`
}

// AppendMessage handles POST /api/transcript.
func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var msg domain.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stored, added, err := h.Transcript.Append(msg)
	if err != nil {
		fail(w, err)
		return
	}

	class := analysis.ClassNone
	if added {
		for _, sink := range h.MessageSinks {
			sink.Message(stored)
		}
		class = h.Engine.HandleMessage(stored)
	}

	resp := appendMessageResponse{
		Message:        stored,
		Added:          added,
		Classification: class.String(),
	}
	if s, err := h.Engine.SessionForMessage(stored.Key()); err == nil {
		resp.Session = s
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	JSON(w, status, resp)
}

// ListMessages handles GET /api/transcript.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": h.Transcript.Tail(limit)})
}

var errBadLimit = errors.New("limit must be a non-negative integer")

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errBadLimit
	}
	return n, nil
}

