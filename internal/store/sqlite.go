package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/domain"
	"github.com/ashureev/cryptomind-desk/internal/shared"
	_ "modernc.org/sqlite"
)

// defaultListLimit caps list queries when the caller passes limit <= 0.
const defaultListLimit = 500

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
	retry   shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL,
		message_key TEXT NOT NULL,
		message_id TEXT,
		ts INTEGER NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		archived_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, message_key)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(conversation_id, ts);

	CREATE TABLE IF NOT EXISTS agent_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		publisher TEXT,
		payload BLOB NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_events_conv ON agent_events(conversation_id, id);

	CREATE TABLE IF NOT EXISTS analyses (
		session_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		status TEXT NOT NULL,
		data_json TEXT,
		bound_message_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_conv ON analyses(conversation_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, op, query string, args ...any) error {
	return shared.RetryOnConflict(ctx, s.retry, op, func(ctx context.Context) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// AppendMessage stores a transcript message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg domain.ChatMessage) error {
	query := `
	INSERT INTO messages (conversation_id, message_key, message_id, ts, sender, text, archived_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, message_key) DO NOTHING`

	var messageID any
	if msg.ID != "" {
		messageID = msg.ID
	}
	return s.write(ctx, "append message", query,
		conversationID, msg.Key(), messageID, msg.Timestamp,
		string(msg.Sender), msg.Text, time.Now().UnixMilli(),
	)
}

// ListMessages returns archived messages oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT message_id, ts, sender, text
		FROM messages WHERE conversation_id = ?
		ORDER BY ts, archived_at LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var messageID sql.NullString
		var sender string
		if err := rows.Scan(&messageID, &msg.Timestamp, &sender, &msg.Text); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.ID = messageID.String
		msg.Sender = domain.Sender(sender)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// AppendEvent stores a raw agent event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, conversationID string, ev EventRecord) error {
	query := `
	INSERT INTO agent_events (conversation_id, topic, publisher, payload, received_at)
	VALUES (?, ?, ?, ?, ?)`

	var publisher any
	if ev.Publisher != "" {
		publisher = ev.Publisher
	}
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return s.write(ctx, "append event", query,
		conversationID, ev.Topic, publisher, ev.Payload, receivedAt.UnixMilli(),
	)
}

// ListEvents returns archived events oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, conversationID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, topic, publisher, payload, received_at
		FROM agent_events WHERE conversation_id = ?
		ORDER BY id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		var publisher sql.NullString
		var receivedAt int64
		if err := rows.Scan(&ev.ID, &ev.Topic, &publisher, &ev.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Publisher = publisher.String
		ev.ReceivedAt = time.UnixMilli(receivedAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// SaveAnalysis upserts a session snapshot.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, conversationID string, session *domain.AnalysisSession) error {
	if session == nil {
		return errors.New("save analysis: nil session")
	}
	query := `
	INSERT INTO analyses (
		session_id, conversation_id, seq, symbol, timeframe, status,
		data_json, bound_message_id, created_at, updated_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		symbol = excluded.symbol,
		timeframe = excluded.timeframe,
		status = excluded.status,
		data_json = excluded.data_json,
		bound_message_id = excluded.bound_message_id,
		updated_at = excluded.updated_at,
		finished_at = COALESCE(excluded.finished_at, analyses.finished_at)`

	var dataJSON any
	if len(session.Data) > 0 {
		raw, err := json.Marshal(session.Data)
		if err != nil {
			return fmt.Errorf("marshal analysis data: %w", err)
		}
		dataJSON = string(raw)
	}
	var boundMessageID any
	if session.BoundMessageID != "" {
		boundMessageID = session.BoundMessageID
	}
	var finishedAt any
	if session.FinishedAt != nil {
		finishedAt = session.FinishedAt.UnixMilli()
	}

	return s.write(ctx, "save analysis", query,
		session.ID, conversationID, session.Seq, session.Symbol, session.Timeframe,
		string(session.Status), dataJSON, boundMessageID,
		session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli(), finishedAt,
	)
}

const analysisColumns = `session_id, seq, symbol, timeframe, status, data_json,
		       bound_message_id, created_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.AnalysisSession, error) {
	var session domain.AnalysisSession
	var status string
	var dataJSON, boundMessageID sql.NullString
	var createdAt, updatedAt int64
	var finishedAt sql.NullInt64

	if err := row.Scan(
		&session.ID, &session.Seq, &session.Symbol, &session.Timeframe, &status,
		&dataJSON, &boundMessageID, &createdAt, &updatedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	session.Status = domain.AnalysisStatus(status)
	session.BoundMessageID = boundMessageID.String
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	if finishedAt.Valid {
		ts := time.UnixMilli(finishedAt.Int64)
		session.FinishedAt = &ts
	}
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &session.Data); err != nil {
			return nil, fmt.Errorf("decode analysis data: %w", err)
		}
	}
	return &session, nil
}

// GetAnalysis retrieves one session snapshot.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, sessionID string) (*domain.AnalysisSession, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE session_id = ?`

	session, err := scanAnalysis(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan analysis row: %w", err)
	}
	return session, nil
}

// ListAnalyses returns snapshots in creation order.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, conversationID string, limit int) ([]*domain.AnalysisSession, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + analysisColumns + `
		FROM analyses WHERE conversation_id = ?
		ORDER BY seq LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close analysis rows", "error", closeErr)
		}
	}()

	var sessions []*domain.AnalysisSession
	for rows.Next() {
		session, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return sessions, nil
}
