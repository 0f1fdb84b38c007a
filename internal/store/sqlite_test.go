package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "desk.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteMessages(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	msgs := []domain.ChatMessage{
		{ID: "m1", Timestamp: 100, Sender: domain.SenderLocal, Text: "analyze btc"},
		{Timestamp: 200, Sender: domain.SenderRemote, Text: "Starting analysis for BTC/USDT"},
		{ID: "m1", Timestamp: 100, Sender: domain.SenderLocal, Text: "duplicate"},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, "desk", m); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
	if err := s.AppendMessage(ctx, "other", msgs[0]); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListMessages(ctx, "desk", 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if diff := cmp.Diff(msgs[:2], got); diff != "" {
		t.Errorf("ListMessages mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteEvents(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	if err := s.AppendEvent(ctx, "desk", EventRecord{Topic: "status", Payload: []byte(`{"status":"started"}`), Publisher: "agent", ReceivedAt: at}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvent(ctx, "desk", EventRecord{Topic: "data", Payload: []byte(`{"data":{}}`)}); err != nil {
		t.Fatal(err)
	}

	events, err := s.ListEvents(ctx, "desk", 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Topic != "status" || events[0].Publisher != "agent" || !events[0].ReceivedAt.Equal(at) {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Publisher != "" || string(events[1].Payload) != `{"data":{}}` {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestSQLiteAnalysisUpsert(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1_700_000_000_000)

	session := &domain.AnalysisSession{
		ID:        "s1",
		Seq:       1,
		Symbol:    "BTC/USDT",
		Timeframe: "1H",
		Status:    domain.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := s.SaveAnalysis(ctx, "desk", session); err != nil {
		t.Fatalf("SaveAnalysis() error = %v", err)
	}

	finished := created.Add(20 * time.Second)
	session.Status = domain.StatusComplete
	session.Data = domain.Snapshot{"price": "$50000", "verdict": "UP"}
	session.BoundMessageID = "m2"
	session.UpdatedAt = finished
	session.FinishedAt = &finished
	if err := s.SaveAnalysis(ctx, "desk", session); err != nil {
		t.Fatalf("SaveAnalysis() update error = %v", err)
	}

	got, err := s.GetAnalysis(ctx, "s1")
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if diff := cmp.Diff(session, got); diff != "" {
		t.Errorf("GetAnalysis mismatch (-want +got):\n%s", diff)
	}

	missing, err := s.GetAnalysis(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetAnalysis(missing) = %v, %v; want nil, nil", missing, err)
	}

	list, err := s.ListAnalyses(ctx, "desk", 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListAnalyses() = %v, %v", list, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestArchiverDrainsOnClose(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := NewArchiver(s, "desk", 16, slog.New(slog.NewTextHandler(io.Discard, nil)))

	a.Message(domain.ChatMessage{ID: "m1", Timestamp: 1, Sender: domain.SenderRemote, Text: "hi"})
	a.Event(EventRecord{Topic: "data", Payload: []byte(`{}`)})
	a.Session(&domain.AnalysisSession{ID: "s1", Seq: 1, Symbol: "CRYPTO", Timeframe: "1H", Status: domain.StatusActive})
	a.Close()
	a.Close()
	a.Message(domain.ChatMessage{ID: "late"})

	ctx := context.Background()
	msgs, _ := s.ListMessages(ctx, "desk", 0)
	events, _ := s.ListEvents(ctx, "desk", 0)
	sessions, _ := s.ListAnalyses(ctx, "desk", 0)
	if len(msgs) != 1 || len(events) != 1 || len(sessions) != 1 {
		t.Errorf("archived %d messages, %d events, %d sessions; want 1 each", len(msgs), len(events), len(sessions))
	}
}
