package cli

import (
	"encoding/json"
	"sort"

	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// Board mirrors the desk's sessions from feed events.
type Board struct {
	sessions map[string]*domain.AnalysisSession
	activeID string
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{sessions: make(map[string]*domain.AnalysisSession)}
}

// Apply folds one feed event into the board and reports whether anything
// changed.
func (b *Board) Apply(ev SSEEvent) bool {
	switch ev.Event {
	case "snapshot":
		var snap struct {
			Sessions []*domain.AnalysisSession `json:"sessions"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &snap); err != nil {
			return false
		}
		b.sessions = make(map[string]*domain.AnalysisSession, len(snap.Sessions))
		for _, s := range snap.Sessions {
			b.sessions[s.ID] = s
		}
		return true
	case "session":
		var c analysis.Change
		if err := json.Unmarshal([]byte(ev.Data), &c); err != nil || c.Session == nil {
			return false
		}
		b.sessions[c.Session.ID] = c.Session
		switch c.Kind {
		case analysis.ChangeCreated:
			b.activeID = c.Session.ID
		case analysis.ChangeCompleted, analysis.ChangeExpired:
			if b.activeID == c.Session.ID {
				b.activeID = ""
			}
		}
		return true
	default:
		return false
	}
}

// Sessions returns the sessions in creation order.
func (b *Board) Sessions() []*domain.AnalysisSession {
	out := make([]*domain.AnalysisSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ActiveID returns the session the board believes is active.
func (b *Board) ActiveID() string {
	return b.activeID
}
