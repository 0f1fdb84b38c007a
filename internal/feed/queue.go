package feed

import (
	"container/list"
	"sync"
	"time"
)

// QueuedEvent is a feed event kept for replay.
type QueuedEvent struct {
	ID        int64
	Name      string
	Data      []byte
	Timestamp time.Time
}

// ReplayQueue keeps the most recent events so reconnecting clients can
// catch up from their Last-Event-ID.
type ReplayQueue struct {
	mu      sync.RWMutex
	events  *list.List
	maxSize int
}

// NewReplayQueue creates a queue holding at most maxSize events.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = 100 // Default: keep last 100 events
	}
	return &ReplayQueue{events: list.New(), maxSize: maxSize}
}

// Enqueue appends an event, evicting the oldest when full.
func (q *ReplayQueue) Enqueue(ev QueuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events.PushBack(ev)
	for q.events.Len() > q.maxSize {
		q.events.Remove(q.events.Front())
	}
}

// Since returns the queued events with an id greater than afterID.
func (q *ReplayQueue) Since(afterID int64) []QueuedEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var missed []QueuedEvent
	for e := q.events.Front(); e != nil; e = e.Next() {
		if ev := e.Value.(QueuedEvent); ev.ID > afterID {
			missed = append(missed, ev)
		}
	}
	return missed
}

// Len returns the number of queued events.
func (q *ReplayQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.events.Len()
}
