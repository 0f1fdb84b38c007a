package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

type sessionsResponse struct {
	ActiveID string                    `json:"active_id,omitempty"`
	Sessions []*domain.AnalysisSession `json:"sessions"`
}

// ListAnalyses handles GET /api/analyses. status=inflight restricts the
// list to pending and active sessions.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	var sessions []*domain.AnalysisSession
	switch r.URL.Query().Get("status") {
	case "", "all":
		sessions = h.Engine.Sessions()
	case "inflight":
		sessions = h.Engine.InFlight()
	default:
		Error(w, http.StatusBadRequest, "status must be all or inflight")
		return
	}
	if sessions == nil {
		sessions = []*domain.AnalysisSession{}
	}
	JSON(w, http.StatusOK, sessionsResponse{ActiveID: h.Engine.ActiveID(), Sessions: sessions})
}

// GetAnalysis handles GET /api/analyses/{id}.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Session(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// ListOrphans handles GET /api/analyses/orphans.
func (h *Handler) ListOrphans(w http.ResponseWriter, _ *http.Request) {
	sessions := h.Engine.Orphans()
	if sessions == nil {
		sessions = []*domain.AnalysisSession{}
	}
	JSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}

// GetMessageAnalysis handles GET /api/messages/{id}/analysis.
func (h *Handler) GetMessageAnalysis(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.SessionForMessage(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// ListHistory handles GET /api/analyses/history, reading archived
// snapshots rather than the live registry.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		Error(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := h.Repo.ListAnalyses(r.Context(), h.ConversationID, limit)
	if err != nil {
		h.Logger.Error("[API] Failed to list archived analyses", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if sessions == nil {
		sessions = []*domain.AnalysisSession{}
	}
	JSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}
