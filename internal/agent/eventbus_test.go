package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ashureev/cryptomind-desk/internal/bus"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startEventBus(t *testing.T, hub *bus.Hub, token string) PublisherConfig {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	NewEventBusServer(hub, token, nil, quietLogger()).Register(server)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	return PublisherConfig{
		Address:        "passthrough:///bufnet",
		ConnectTimeout: 2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
}

func TestEventBusPublishReachesHub(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)
	sub := hub.Subscribe()
	cfg := startEventBus(t, hub, "s3cret")
	cfg.Token = "s3cret"
	cfg.PublisherID = "agent-1"

	pub, err := NewPublisher(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer pub.Close()

	err = pub.Publish(context.Background(),
		Outbound{Topic: "status", Payload: []byte(`{"status":"started","symbol":"BTC/USDT"}`)},
		Outbound{Topic: "data", Payload: []byte(`{"symbol":"BTCUSDT","data":{"price":"$50000"}}`)},
	)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := receive(t, sub, 2)
	if got[0].Topic != "status" || got[1].Topic != "data" {
		t.Fatalf("topics = %s, %s", got[0].Topic, got[1].Topic)
	}
	if got[0].Publisher != "agent-1" {
		t.Errorf("publisher = %q, want agent-1", got[0].Publisher)
	}
	var payload struct {
		Symbol string         `json:"symbol"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal(got[1].Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.Symbol != "BTCUSDT" || payload.Data["price"] != "$50000" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEventBusRejectsBadToken(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)
	cfg := startEventBus(t, hub, "s3cret")
	cfg.Token = "wrong"

	pub, err := NewPublisher(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer pub.Close()

	err = pub.Publish(context.Background(), Outbound{Topic: "status", Payload: []byte(`{"status":"started"}`)})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("Publish() error = %v, want Unauthenticated", err)
	}
}

func TestPublisherRejectsNonJSONPayload(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)
	pub, err := NewPublisher(startEventBus(t, hub, ""), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	if err := pub.Publish(context.Background(), Outbound{Topic: "data", Payload: []byte(`{oops`)}); err == nil {
		t.Fatal("Publish() with invalid JSON succeeded")
	}
}

func TestEnvelopeFromFrameSkipsInvalid(t *testing.T) {
	t.Parallel()

	frame, err := frameFromEnvelope("", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := envelopeFromFrame(frame); err == nil {
		t.Error("frame without topic accepted")
	}

	frame, _ = frameFromEnvelope("data", []byte(`{"data":{"rsi":61}}`))
	delete(frame.Fields, payloadField)
	if _, err := envelopeFromFrame(frame); err == nil {
		t.Error("frame without payload accepted")
	}
}

func newTestHub(t *testing.T) *bus.Hub {
	t.Helper()
	hub := bus.NewHub(16, quietLogger())
	t.Cleanup(hub.Close)
	return hub
}

func receive(t *testing.T, sub *bus.Subscription, n int) []bus.Envelope {
	t.Helper()
	var out []bus.Envelope
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case env := <-sub.C():
			out = append(out, env)
		case <-timeout:
			t.Fatalf("received %d envelopes, want %d", len(out), n)
		}
	}
	return out
}
