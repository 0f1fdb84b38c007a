package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ashureev/cryptomind-desk/internal/domain"
	"github.com/ashureev/cryptomind-desk/internal/identity"
)

// Client talks to the desk's HTTP API.
type Client struct {
	http      *resty.Client
	stream    *resty.Client
	token     string
	publisher string

	mu     sync.Mutex
	lastTS int64
}

type apiError struct {
	Error string `json:"error"`
}

// SessionList is the body of GET /api/analyses.
type SessionList struct {
	ActiveID string                    `json:"active_id,omitempty"`
	Sessions []*domain.AnalysisSession `json:"sessions"`
}

// AppendResult is the body of POST /api/transcript.
type AppendResult struct {
	Message        domain.ChatMessage      `json:"message"`
	Added          bool                    `json:"added"`
	Classification string                  `json:"classification"`
	Session        *domain.AnalysisSession `json:"session,omitempty"`
}

// NewClient creates a client for the desk at baseURL.
func NewClient(baseURL, token, publisher string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	// The SSE stream is long-lived, so it gets a client without timeout.
	stream := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "text/event-stream")
	return &Client{http: c, stream: stream, token: token, publisher: publisher}
}

func (c *Client) ingest(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if c.token != "" {
		r.SetHeader(identity.TokenHeaderName, c.token)
	}
	if c.publisher != "" {
		r.SetHeader(identity.PublisherHeaderName, c.publisher)
	}
	return r
}

func check(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if resp.IsError() {
		var body apiError
		if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
			return fmt.Errorf("%s: %s (%d)", what, body.Error, resp.StatusCode())
		}
		return fmt.Errorf("%s: HTTP %d", what, resp.StatusCode())
	}
	return nil
}

// PublishEvent posts a raw event payload.
func (c *Client) PublishEvent(ctx context.Context, topic string, payload []byte) error {
	resp, err := c.ingest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/api/events/" + topic)
	return check(resp, err, "publish "+topic)
}

// nextTimestamp returns a strictly increasing millisecond timestamp so
// messages sent back to back never share a dedup key.
func (c *Client) nextTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// Say appends a transcript message. A zero timestamp is filled in.
func (c *Client) Say(ctx context.Context, msg domain.ChatMessage) (*AppendResult, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = c.nextTimestamp()
	}
	var out AppendResult
	resp, err := c.ingest(ctx).SetBody(msg).SetResult(&out).Post("/api/transcript")
	if err := check(resp, err, "append message"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions lists sessions; inFlight restricts the list to pending and
// active ones.
func (c *Client) Sessions(ctx context.Context, inFlight bool) (*SessionList, error) {
	var out SessionList
	r := c.http.R().SetContext(ctx).SetResult(&out)
	if inFlight {
		r.SetQueryParam("status", "inflight")
	}
	resp, err := r.Get("/api/analyses")
	if err := check(resp, err, "list analyses"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream opens the SSE feed. The caller closes the returned body.
func (c *Client) Stream(ctx context.Context, lastEventID string) (io.ReadCloser, error) {
	r := c.stream.R().SetContext(ctx).SetDoNotParseResponse(true)
	if lastEventID != "" {
		r.SetHeader("Last-Event-ID", lastEventID)
	}
	resp, err := r.Get("/api/stream")
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.IsError() {
		resp.RawBody().Close()
		return nil, fmt.Errorf("open stream: HTTP %d", resp.StatusCode())
	}
	return resp.RawBody(), nil
}
