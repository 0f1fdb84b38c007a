package domain

import (
	"maps"
	"reflect"
	"time"
)

// AnalysisStatus is the lifecycle state of an analysis session.
type AnalysisStatus string

const (
	// StatusPending is an in-flight session that is not yet displayed.
	StatusPending AnalysisStatus = "pending"
	// StatusActive is an in-flight session shown with a progress panel.
	StatusActive AnalysisStatus = "active"
	// StatusComplete is a finished session. Terminal.
	StatusComplete AnalysisStatus = "complete"
	// StatusExpired is a session the watchdog gave up on. Terminal.
	StatusExpired AnalysisStatus = "expired"
)

// InFlight reports whether the session is still running. Pending and
// active differ only in whether the view shows them.
func (s AnalysisStatus) InFlight() bool {
	return s == StatusPending || s == StatusActive
}

// Terminal reports whether no further status transition is allowed.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusComplete || s == StatusExpired
}

// CanTransition reports whether moving from s to next is a legal
// transition of the session state machine.
func (s AnalysisStatus) CanTransition(next AnalysisStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusComplete || next == StatusExpired
	case StatusActive:
		return next == StatusComplete || next == StatusExpired
	default:
		return false
	}
}

// Snapshot is the structured analysis payload delivered by data events.
// Its contents are opaque to the engine beyond key-by-key merging.
type Snapshot map[string]any

// Merge overwrites s with every key of patch and returns the result.
// Keys absent from patch are preserved. A nil s is allocated.
func (s Snapshot) Merge(patch Snapshot) Snapshot {
	if len(patch) == 0 {
		return s
	}
	if s == nil {
		s = make(Snapshot, len(patch))
	}
	maps.Copy(s, patch)
	return s
}

// Covers reports whether every key of patch is already present in s with
// an equal value, so merging patch would leave s unchanged.
func (s Snapshot) Covers(patch Snapshot) bool {
	for k, v := range patch {
		cur, ok := s[k]
		if !ok || !reflect.DeepEqual(cur, v) {
			return false
		}
	}
	return true
}

// Clone returns a copy of s. Nested maps and slices are copied as well so
// callers may not alias registry state.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Snapshot(t).Clone())
	case Snapshot:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// AnalysisSession tracks one remote analysis operation.
type AnalysisSession struct {
	ID             string         `json:"session_id"`
	Seq            uint64         `json:"seq"`
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	Status         AnalysisStatus `json:"status"`
	Data           Snapshot       `json:"data,omitempty"`
	BoundMessageID string         `json:"bound_message_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// IsBound returns true if the session renders next to a transcript entry.
func (a *AnalysisSession) IsBound() bool {
	return a.BoundMessageID != ""
}

// Clone returns a deep copy of the session.
func (a *AnalysisSession) Clone() *AnalysisSession {
	if a == nil {
		return nil
	}
	out := *a
	out.Data = a.Data.Clone()
	if a.FinishedAt != nil {
		ts := *a.FinishedAt
		out.FinishedAt = &ts
	}
	return &out
}
