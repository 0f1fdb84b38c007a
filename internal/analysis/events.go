package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// Topics the engine consumes.
const (
	TopicStatus = "status"
	TopicData   = "data"
)

// statusStarted is the only status value the agent publishes today.
const statusStarted = "started"

// EventKind discriminates decoded out-of-band events.
type EventKind int

const (
	// EventStarted announces a new analysis.
	EventStarted EventKind = iota + 1
	// EventData carries an incremental analysis snapshot.
	EventData
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is a decoded out-of-band message from the agent. Symbol and
// Timeframe are empty when the payload omitted them.
type Event struct {
	Kind      EventKind
	Symbol    string
	Timeframe string
	Payload   domain.Snapshot
}

// Started builds a started event.
func Started(symbol, timeframe string) Event {
	return Event{Kind: EventStarted, Symbol: symbol, Timeframe: timeframe}
}

// Data builds a data event.
func Data(symbol string, payload domain.Snapshot) Event {
	return Event{Kind: EventData, Symbol: symbol, Payload: payload}
}

// WithTimeframe returns a copy of e carrying timeframe.
func (e Event) WithTimeframe(timeframe string) Event {
	e.Timeframe = timeframe
	return e
}

type statusPayload struct {
	Status    *string `json:"status"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
}

type dataPayload struct {
	Data      json.RawMessage `json:"data"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
}

// DecodeEvent turns a raw envelope into an Event. Every failure wraps
// ErrMalformedEvent; such envelopes are meant to be logged and dropped.
func DecodeEvent(topic string, payload []byte) (Event, error) {
	switch topic {
	case TopicStatus:
		var p statusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w: %v", topic, ErrMalformedEvent, err)
		}
		if p.Status == nil {
			return Event{}, fmt.Errorf("%s payload without status field: %w", topic, ErrMalformedEvent)
		}
		if !strings.EqualFold(strings.TrimSpace(*p.Status), statusStarted) {
			return Event{}, fmt.Errorf("unsupported status %q: %w", *p.Status, ErrMalformedEvent)
		}
		return Started(strings.TrimSpace(p.Symbol), strings.TrimSpace(p.Timeframe)), nil

	case TopicData:
		var p dataPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w: %v", topic, ErrMalformedEvent, err)
		}
		raw := bytes.TrimSpace(p.Data)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return Event{}, fmt.Errorf("%s payload without data field: %w", topic, ErrMalformedEvent)
		}
		var snapshot domain.Snapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			return Event{}, fmt.Errorf("data field is not an object: %w: %v", ErrMalformedEvent, err)
		}
		ev := Data(strings.TrimSpace(p.Symbol), snapshot)
		return ev.WithTimeframe(strings.TrimSpace(p.Timeframe)), nil

	default:
		return Event{}, fmt.Errorf("%q: %w", topic, ErrUnknownTopic)
	}
}
