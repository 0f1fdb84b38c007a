package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent is returned when an event payload cannot be decoded
	// or lacks its discriminator field.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownTopic is returned for envelopes on a topic the engine does
	// not consume. It wraps ErrMalformedEvent.
	ErrUnknownTopic = fmt.Errorf("unknown topic: %w", ErrMalformedEvent)
	// ErrSessionNotFound is returned when an id names no tracked session.
	ErrSessionNotFound = errors.New("analysis session not found")
	// ErrInvalidTransition is returned for a status change the session
	// state machine does not allow, including any change out of a terminal
	// state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrEmptyRegistry is reported when a data event arrives before any
	// session exists.
	ErrEmptyRegistry = errors.New("no analysis sessions to bind to")
)
