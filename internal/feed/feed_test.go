package feed

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func change(kind analysis.ChangeKind, id string) analysis.Change {
	return analysis.Change{
		Kind: kind,
		Session: &domain.AnalysisSession{
			ID:     id,
			Symbol: "BTC/USDT",
			Status: domain.StatusActive,
		},
		At: time.Unix(1_700_000_000, 0),
	}
}

// serveClosed runs one request whose context is already cancelled, so the
// handler writes its preamble and returns.
func serveClosed(t *testing.T, b *Broadcaster, lastEventID string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return rec.Body.String()
}

func TestReplayQueueBounded(t *testing.T) {
	t.Parallel()

	q := NewReplayQueue(2)
	for i := int64(1); i <= 3; i++ {
		q.Enqueue(QueuedEvent{ID: i})
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	missed := q.Since(0)
	if len(missed) != 2 || missed[0].ID != 2 || missed[1].ID != 3 {
		t.Errorf("Since(0) = %+v", missed)
	}
	if got := q.Since(3); len(got) != 0 {
		t.Errorf("Since(3) = %+v, want none", got)
	}
}

func TestServeSnapshotForFreshClient(t *testing.T) {
	t.Parallel()

	snapshot := func() []*domain.AnalysisSession {
		return []*domain.AnalysisSession{{ID: "s-1", Symbol: "ETH/USD", Status: domain.StatusPending}}
	}
	b := NewBroadcaster(DefaultConfig(), snapshot, quietLogger())
	body := serveClosed(t, b, "")

	for _, want := range []string{"retry: 5000", "event: snapshot", `"session_id":"s-1"`, "event: connected"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestServeReplaysMissedEvents(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(DefaultConfig(), nil, quietLogger())
	b.broadcast(change(analysis.ChangeCreated, "s-1"))
	b.broadcast(change(analysis.ChangeUpdated, "s-2"))

	body := serveClosed(t, b, "1")
	if strings.Contains(body, "id: 1\n") {
		t.Errorf("replayed an event the client already had:\n%s", body)
	}
	if !strings.Contains(body, "id: 2\nevent: session") || !strings.Contains(body, `"session_id":"s-2"`) {
		t.Errorf("missing replay of event 2:\n%s", body)
	}
	if strings.Contains(body, "event: snapshot") {
		t.Error("reconnecting client received a snapshot")
	}
}

func TestBroadcastReachesConnectedClient(t *testing.T) {
	b := NewBroadcaster(Config{KeepaliveInterval: time.Hour}, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		b.Run(ctx)
	}()

	srv := httptest.NewServer(b)
	defer func() {
		cancel()
		<-loopDone
		srv.CloseClientConnections()
		srv.Close()
	}()

	reqCtx, reqCancel := context.WithCancel(ctx)
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		t.Helper()
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}

	waitFor("event: connected")
	b.Observe(change(analysis.ChangeCompleted, "s-9"))
	waitFor("event: session")
	data := waitFor("data: ")
	if !strings.Contains(data, `"kind":"completed"`) || !strings.Contains(data, `"session_id":"s-9"`) {
		t.Errorf("data = %s", data)
	}
}

func TestObserveDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{InboxSize: 1}, nil, quietLogger())
	b.Observe(change(analysis.ChangeCreated, "a"))
	b.Observe(change(analysis.ChangeCreated, "b"))
	if got := len(b.inbox); got != 1 {
		t.Errorf("inbox len = %d, want 1", got)
	}
}
