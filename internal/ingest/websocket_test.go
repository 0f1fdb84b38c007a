package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/identity"
)

type recordedEnvelopes struct {
	mu   sync.Mutex
	envs []bus.Envelope
}

func (r *recordedEnvelopes) Envelope(env bus.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recordedEnvelopes) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *bus.Hub, *recordedEnvelopes) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := bus.NewHub(8, logger)
	rec := &recordedEnvelopes{}
	h := NewWebSocketHandler(hub, NewConnectionManager(logger), rec, "*", true, logger)
	srv := httptest.NewServer(identity.Middleware(token)(h))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return srv, hub, rec
}

func TestPublishOverWebSocket(t *testing.T) {
	t.Parallel()

	srv, hub, rec := newTestServer(t, "tok")
	sub := hub.Subscribe("data")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, URLFromHTTP(srv.URL), "tok", "agent-7")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := client.Publish(ctx, "data", []byte(`{"symbol":"ETH/USD","data":{"rsi":48}}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case env := <-sub.C():
		if env.Publisher != "agent-7" {
			t.Errorf("publisher = %q, want agent-7", env.Publisher)
		}
		if string(env.Payload) != `{"symbol":"ETH/USD","data":{"rsi":48}}` {
			t.Errorf("payload = %s", env.Payload)
		}
	case <-ctx.Done():
		t.Fatal("envelope never reached the hub")
	}
	if rec.len() != 1 {
		t.Errorf("recorded %d envelopes, want 1", rec.len())
	}
}

func TestPublishRejectsFrameWithoutTopic(t *testing.T) {
	t.Parallel()

	srv, _, rec := newTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, URLFromHTTP(srv.URL), "", "")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	err = client.Publish(ctx, " ", []byte(`{"status":"started"}`))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Publish() error = %v, want ErrRejected", err)
	}
	if rec.len() != 0 {
		t.Error("rejected frame was recorded")
	}
}

func TestDialRejectsBadToken(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Dial(ctx, URLFromHTTP(srv.URL), "nope", ""); err == nil {
		t.Fatal("Dial() with wrong token succeeded")
	}
}

func TestConnectionManagerReplaces(t *testing.T) {
	t.Parallel()

	cm := NewConnectionManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	first := new(websocket.Conn)
	cm.mu.Lock()
	cm.active["agent"] = first
	cm.mu.Unlock()

	cm.Unregister("agent", new(websocket.Conn))
	if cm.Get("agent") != first {
		t.Fatal("Unregister removed a connection it did not own")
	}
	cm.Unregister("agent", first)
	if cm.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", cm.Len())
	}
}

func TestURLFromHTTP(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"http://localhost:8080":   "ws://localhost:8080/ws/events",
		"https://desk.example/":   "wss://desk.example/ws/events",
		"ws://already.example:81": "ws://already.example:81/ws/events",
	}
	for in, want := range tests {
		if got := URLFromHTTP(in); got != want {
			t.Errorf("URLFromHTTP(%q) = %q, want %q", in, got, want)
		}
	}
}
