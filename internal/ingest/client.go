package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/cryptomind-desk/internal/identity"
)

// ErrRejected is returned when the server answers a frame with an error.
var ErrRejected = errors.New("event rejected")

// Client publishes events over one /ws/events connection. It is not safe
// for concurrent use.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to url (ws:// or wss://). Token and publisher are sent as
// headers; either may be empty.
func Dial(ctx context.Context, url, token, publisher string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set(identity.TokenHeaderName, token)
	}
	if publisher != "" {
		header.Set(identity.PublisherHeaderName, publisher)
	}
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Publish sends one event and waits for its acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("payload for %q is not JSON", topic)
	}
	reply, err := c.roundTrip(ctx, wsMessage{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	if reply.Type != "ack" {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.roundTrip(ctx, wsMessage{Type: "ping"})
	if err != nil {
		return err
	}
	if reply.Type != "pong" {
		return fmt.Errorf("unexpected reply %q to ping", reply.Type)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, msg wsMessage) (wsReply, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return wsReply{}, err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return wsReply{}, fmt.Errorf("write frame: %w", err)
	}
	_, raw, err := c.conn.Read(ctx)
	if err != nil {
		return wsReply{}, fmt.Errorf("read reply: %w", err)
	}
	var reply wsReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return wsReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// URLFromHTTP turns an http(s) base URL into the /ws/events URL.
func URLFromHTTP(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/events"
}
