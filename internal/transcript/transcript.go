// Package transcript keeps the conversation's messages in arrival order.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// ErrInvalidMessage is returned for messages the log cannot accept.
var ErrInvalidMessage = errors.New("invalid chat message")

// Log is an append-only, deduplicated list of chat messages. It is safe
// for concurrent use.
type Log struct {
	mu   sync.RWMutex
	msgs []domain.ChatMessage
	keys map[string]int
	now  func() time.Time
}

// New creates an empty log.
func New() *Log {
	return &Log{keys: make(map[string]int), now: time.Now}
}

// Append adds msg and returns the stored copy. A zero timestamp is set to
// the current time. A message whose key is already present is not added
// again and Append reports false.
func (l *Log) Append(msg domain.ChatMessage) (domain.ChatMessage, bool, error) {
	if !msg.Sender.Valid() {
		return msg, false, fmt.Errorf("sender %q: %w", msg.Sender, ErrInvalidMessage)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return msg, false, fmt.Errorf("empty text: %w", ErrInvalidMessage)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if msg.Timestamp == 0 {
		msg.Timestamp = l.now().UnixMilli()
	}
	key := msg.Key()
	if i, ok := l.keys[key]; ok {
		return l.msgs[i], false, nil
	}
	l.keys[key] = len(l.msgs)
	l.msgs = append(l.msgs, msg)
	return msg, true, nil
}

// All returns a copy of every message in arrival order.
func (l *Log) All() []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ChatMessage, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Tail returns up to n most recent messages.
func (l *Log) Tail(n int) []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.msgs) {
		n = len(l.msgs)
	}
	out := make([]domain.ChatMessage, n)
	copy(out, l.msgs[len(l.msgs)-n:])
	return out
}

// Get looks a message up by key.
func (l *Log) Get(key string) (domain.ChatMessage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.keys[key]
	if !ok {
		return domain.ChatMessage{}, false
	}
	return l.msgs[i], true
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
