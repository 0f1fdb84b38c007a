// Package feed streams analysis session changes to the view layer over
// server-sent events.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// Event names written on the stream.
const (
	EventConnected = "connected"
	EventSnapshot  = "snapshot"
	EventSession   = "session"
	EventPing      = "ping"
)

// Config tunes the broadcaster.
type Config struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	ReplaySize        int
	InboxSize         int
}

// DefaultConfig returns the feed defaults.
func DefaultConfig() Config {
	return Config{
		KeepaliveInterval: 10 * time.Second,
		RetryDelay:        5 * time.Second,
		ReplaySize:        100,
		InboxSize:         256,
	}
}

// SnapshotFunc returns the current sessions for clients that connect
// without a Last-Event-ID.
type SnapshotFunc func() []*domain.AnalysisSession

type connection struct {
	id          int64
	connectedAt time.Time
	w           http.ResponseWriter
	flusher     http.Flusher
	mu          sync.Mutex
	done        bool
	lastEventID int64
}

// Broadcaster fans engine changes out to every connected SSE client.
type Broadcaster struct {
	cfg      Config
	snapshot SnapshotFunc
	logger   *slog.Logger
	inbox    chan analysis.Change
	queue    *ReplayQueue

	connsMu sync.RWMutex
	conns   map[int64]*connection

	counterMu    sync.Mutex
	eventCounter int64
	connectionID int64
}

// NewBroadcaster creates a broadcaster. Run must be started for changes
// to reach clients.
func NewBroadcaster(cfg Config, snapshot SnapshotFunc, logger *slog.Logger) *Broadcaster {
	def := DefaultConfig()
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:      cfg,
		snapshot: snapshot,
		logger:   logger,
		inbox:    make(chan analysis.Change, cfg.InboxSize),
		queue:    NewReplayQueue(cfg.ReplaySize),
		conns:    make(map[int64]*connection),
	}
}

// Observe queues a change for broadcast. It never blocks, so it can be
// subscribed to the engine directly; changes are dropped when the inbox is
// full.
func (b *Broadcaster) Observe(c analysis.Change) {
	select {
	case b.inbox <- c:
	default:
		b.logger.Warn("[FEED] Inbox full, dropping change",
			"kind", c.Kind,
			"session_id", c.Session.ID,
		)
	}
}

// Run distributes queued changes until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("[FEED] Broadcast loop started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("[FEED] Broadcast loop shutting down")
			return
		case c := <-b.inbox:
			b.broadcast(c)
		}
	}
}

func (b *Broadcaster) nextEventID() int64 {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()
	b.eventCounter++
	return b.eventCounter
}

func (b *Broadcaster) broadcast(c analysis.Change) {
	data, err := json.Marshal(c)
	if err != nil {
		b.logger.Error("[FEED] Failed to marshal change", "error", err, "kind", c.Kind)
		return
	}
	ev := QueuedEvent{ID: b.nextEventID(), Name: EventSession, Data: data, Timestamp: c.At}
	b.queue.Enqueue(ev)

	// Snapshot connections to avoid holding RLock during writes
	b.connsMu.RLock()
	conns := make([]*connection, 0, len(b.conns))
	for _, conn := range b.conns {
		conns = append(conns, conn)
	}
	b.connsMu.RUnlock()

	b.logger.Debug("[FEED] Broadcasting change",
		"event_id", ev.ID,
		"kind", c.Kind,
		"session_id", c.Session.ID,
		"clients", len(conns),
	)
	for _, conn := range conns {
		b.send(conn, ev)
	}
}

func (b *Broadcaster) send(conn *connection, ev QueuedEvent) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.done || ev.ID <= conn.lastEventID {
		return
	}
	if err := writeSSEWithID(conn.w, ev.ID, ev.Name, ev.Data); err != nil {
		b.logger.Warn("[FEED] Failed to write to SSE connection", "error", err, "conn_id", conn.id)
		return
	}
	conn.flusher.Flush()
	conn.lastEventID = ev.ID
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.connsMu.RLock()
	defer b.connsMu.RUnlock()
	return len(b.conns)
}

// ServeHTTP streams the feed. A client reconnecting with Last-Event-ID (or
// the lastEventId query parameter) first receives the events it missed;
// a fresh client receives a snapshot of all sessions.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", b.cfg.RetryDelay.Milliseconds()); err != nil {
		b.logger.Warn("[FEED] Failed to write SSE retry header", "error", err)
		return
	}
	flusher.Flush()

	b.counterMu.Lock()
	b.connectionID++
	connID := b.connectionID
	b.counterMu.Unlock()

	conn := &connection{
		id:          connID,
		connectedAt: time.Now(),
		w:           w,
		flusher:     flusher,
	}

	// Hold the connection lock while registering so no broadcast can slip in
	// before the replay or snapshot is written.
	conn.mu.Lock()
	b.connsMu.Lock()
	b.conns[connID] = conn
	b.connsMu.Unlock()

	defer func() {
		b.connsMu.Lock()
		delete(b.conns, connID)
		b.connsMu.Unlock()
		conn.mu.Lock()
		conn.done = true
		conn.mu.Unlock()
		b.logger.Info("[FEED] SSE connection closed", "conn_id", connID, "duration", time.Since(conn.connectedAt))
	}()

	if err := b.prime(conn, lastEventID); err != nil {
		conn.mu.Unlock()
		b.logger.Warn("[FEED] Failed to prime SSE connection", "error", err, "conn_id", connID)
		return
	}
	conn.mu.Unlock()

	b.logger.Info("[FEED] SSE connection established",
		"conn_id", connID,
		"reconnect", lastEventID > 0,
	)

	keepalive := time.NewTicker(b.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			conn.mu.Lock()
			err := writeSSE(w, EventPing, []byte(`{"status":"alive"}`))
			if err == nil {
				flusher.Flush()
			}
			conn.mu.Unlock()
			if err != nil {
				b.logger.Warn("[FEED] Failed to write SSE keepalive ping", "error", err, "conn_id", connID)
				return
			}
		}
	}
}

// prime writes the replay or snapshot and the connected event. The caller
// holds conn.mu.
func (b *Broadcaster) prime(conn *connection, lastEventID int64) error {
	if lastEventID > 0 {
		missed := b.queue.Since(lastEventID)
		if len(missed) > 0 {
			b.logger.Info("[FEED] Sending missed events", "conn_id", conn.id, "count", len(missed))
		}
		for _, ev := range missed {
			if err := writeSSEWithID(conn.w, ev.ID, ev.Name, ev.Data); err != nil {
				return err
			}
			conn.lastEventID = ev.ID
		}
	} else if b.snapshot != nil {
		data, err := json.Marshal(map[string]any{"sessions": b.snapshot()})
		if err != nil {
			return err
		}
		if err := writeSSE(conn.w, EventSnapshot, data); err != nil {
			return err
		}
	}

	b.counterMu.Lock()
	current := b.eventCounter
	b.counterMu.Unlock()
	if conn.lastEventID < lastEventID {
		conn.lastEventID = lastEventID
	}
	connected := fmt.Sprintf(`{"status":"connected","conn_id":%d,"event_id":%d}`, conn.id, current)
	if err := writeSSE(conn.w, EventConnected, []byte(connected)); err != nil {
		return err
	}
	conn.flusher.Flush()
	return nil
}

func writeSSE(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
