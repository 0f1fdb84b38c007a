package analysis

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ashureev/cryptomind-desk/internal/clock"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// Seed holds the initial fields of a new session.
type Seed struct {
	Symbol         string
	Timeframe      string
	Status         domain.AnalysisStatus
	BoundMessageID string
	Data           domain.Snapshot
}

// Patch is a partial update. Nil pointers leave the field untouched and
// Data is merged key by key.
type Patch struct {
	Symbol         *string
	Timeframe      *string
	Status         *domain.AnalysisStatus
	BoundMessageID *string
	Data           domain.Snapshot
}

// Registry is the authoritative collection of analysis sessions for one
// conversation. Sessions are never removed.
//
// Registry is not safe for concurrent use; the Engine serializes access.
type Registry struct {
	clock     clock.Clock
	newID     func() string
	sessions  map[string]*domain.AnalysisSession
	order     []string
	byMessage map[string]string
	seq       uint64
}

// NewRegistry creates an empty registry. A nil clock uses the real clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		clock:     clk,
		newID:     uuid.NewString,
		sessions:  make(map[string]*domain.AnalysisSession),
		byMessage: make(map[string]string),
	}
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	return len(r.order)
}

// Create stores a new session and returns its id.
func (r *Registry) Create(seed Seed) string {
	now := r.clock.Now()
	r.seq++

	status := seed.Status
	if status == "" {
		status = domain.StatusPending
	}
	s := &domain.AnalysisSession{
		ID:             r.newID(),
		Seq:            r.seq,
		Symbol:         seed.Symbol,
		Timeframe:      seed.Timeframe,
		Status:         status,
		Data:           seed.Data.Clone(),
		BoundMessageID: seed.BoundMessageID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status.Terminal() {
		s.FinishedAt = &now
	}

	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	if s.BoundMessageID != "" {
		r.byMessage[s.BoundMessageID] = s.ID
	}
	return s.ID
}

// Get returns a copy of the session with the given id.
func (r *Registry) Get(id string) (*domain.AnalysisSession, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Update applies patch to the session and reports whether any field
// changed. UpdatedAt only moves when something did, so re-applying a patch
// is a no-op. The patch is rejected as a whole if it requests an illegal
// status transition.
func (r *Registry) Update(id string, patch Patch) (bool, error) {
	s, ok := r.sessions[id]
	if !ok {
		return false, fmt.Errorf("update %s: %w", id, ErrSessionNotFound)
	}

	if patch.Status != nil && *patch.Status != s.Status && !s.Status.CanTransition(*patch.Status) {
		return false, fmt.Errorf("update %s from %s to %s: %w", id, s.Status, *patch.Status, ErrInvalidTransition)
	}

	now := r.clock.Now()
	changed := false
	if patch.Symbol != nil && *patch.Symbol != s.Symbol {
		s.Symbol = *patch.Symbol
		changed = true
	}
	if patch.Timeframe != nil && *patch.Timeframe != s.Timeframe {
		s.Timeframe = *patch.Timeframe
		changed = true
	}
	if patch.BoundMessageID != nil && *patch.BoundMessageID != s.BoundMessageID {
		if s.BoundMessageID != "" && r.byMessage[s.BoundMessageID] == id {
			delete(r.byMessage, s.BoundMessageID)
		}
		s.BoundMessageID = *patch.BoundMessageID
		if s.BoundMessageID != "" {
			r.byMessage[s.BoundMessageID] = id
		}
		changed = true
	}
	if len(patch.Data) > 0 && !s.Data.Covers(patch.Data) {
		s.Data = s.Data.Merge(patch.Data.Clone())
		changed = true
	}
	if patch.Status != nil && *patch.Status != s.Status {
		s.Status = *patch.Status
		if s.Status.Terminal() {
			s.FinishedAt = &now
		}
		changed = true
	}
	if changed {
		s.UpdatedAt = now
	}
	return changed, nil
}

// ListActive returns copies of all in-flight sessions in creation order.
func (r *Registry) ListActive() []*domain.AnalysisSession {
	out := make([]*domain.AnalysisSession, 0)
	for _, id := range r.order {
		if s := r.sessions[id]; s.Status.InFlight() {
			out = append(out, s.Clone())
		}
	}
	return out
}

// ListAll returns copies of every session in creation order.
func (r *Registry) ListAll() []*domain.AnalysisSession {
	out := make([]*domain.AnalysisSession, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].Clone())
	}
	return out
}

// Snapshot is ListAll keyed by id, for views that look sessions up.
func (r *Registry) Snapshot() map[string]*domain.AnalysisSession {
	out := make(map[string]*domain.AnalysisSession, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s.Clone()
	}
	return out
}

// ByMessage returns the session bound to a transcript message.
func (r *Registry) ByMessage(messageID string) (*domain.AnalysisSession, bool) {
	id, ok := r.byMessage[messageID]
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

// Unbound returns copies of sessions not tied to any transcript entry, in
// creation order. The view renders these as orphans.
func (r *Registry) Unbound() []*domain.AnalysisSession {
	out := make([]*domain.AnalysisSession, 0)
	for _, id := range r.order {
		if s := r.sessions[id]; !s.IsBound() {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Newest returns the most recently created session of any status.
func (r *Registry) Newest() (*domain.AnalysisSession, bool) {
	if len(r.order) == 0 {
		return nil, false
	}
	return r.Get(r.order[len(r.order)-1])
}

// newestFirst calls fn on each session from newest to oldest until fn
// returns true. fn must not modify the session.
func (r *Registry) newestFirst(fn func(*domain.AnalysisSession) bool) {
	for i := len(r.order) - 1; i >= 0; i-- {
		if fn(r.sessions[r.order[i]]) {
			return
		}
	}
}

func (r *Registry) status(id string) (domain.AnalysisStatus, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return s.Status, true
}
