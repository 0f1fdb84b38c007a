// Package store archives the desk's transcript, agent events and analysis
// session snapshots. The archive is write-through history: the engine never
// restores its state from it.
package store

import (
	"context"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// EventRecord is one archived out-of-band event.
type EventRecord struct {
	ID         int64
	Topic      string
	Publisher  string
	Payload    []byte
	ReceivedAt time.Time
}

// Repository defines the archive operations. Every method is scoped to a
// conversation id.
type Repository interface {
	// AppendMessage stores a transcript message. Re-appending the same
	// message key is a no-op.
	AppendMessage(ctx context.Context, conversationID string, msg domain.ChatMessage) error

	// ListMessages returns up to limit messages, oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error)

	// AppendEvent stores a raw agent event.
	AppendEvent(ctx context.Context, conversationID string, ev EventRecord) error

	// ListEvents returns up to limit events, oldest first.
	ListEvents(ctx context.Context, conversationID string, limit int) ([]EventRecord, error)

	// SaveAnalysis creates or replaces the snapshot of a session.
	SaveAnalysis(ctx context.Context, conversationID string, session *domain.AnalysisSession) error

	// GetAnalysis retrieves a session snapshot. Returns nil, nil if absent.
	GetAnalysis(ctx context.Context, sessionID string) (*domain.AnalysisSession, error)

	// ListAnalyses returns up to limit snapshots in creation order.
	ListAnalyses(ctx context.Context, conversationID string, limit int) ([]*domain.AnalysisSession, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
