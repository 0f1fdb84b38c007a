// Package bus is the in-process publish/subscribe hub that carries the
// agent's out-of-band events from the ingest transports to their consumers.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the per-subscriber buffer used when none is given.
const DefaultQueueSize = 256

// Envelope is one published event. Payload is the raw JSON body; the bus
// never interprets it.
type Envelope struct {
	Topic      string
	Payload    []byte
	Publisher  string
	ReceivedAt time.Time
}

// Handler consumes envelopes synchronously, on the publisher's goroutine.
type Handler func(Envelope)

// Hub fans envelopes out to subscribers. Publish never blocks on a
// subscriber: when a subscriber's queue is full its oldest envelope is
// dropped. Handlers run inline before the fan-out, so consumers that need
// arrival order see envelopes in the order Publish was called.
type Hub struct {
	mu        sync.RWMutex
	handlers  []Handler
	subs      map[uint64]*Subscription
	nextID    uint64
	queueSize int
	closed    bool
	logger    *slog.Logger
}

// NewHub creates a hub. queueSize <= 0 uses DefaultQueueSize.
func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:      make(map[uint64]*Subscription),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers a subscriber for the given topics. No topics means
// every topic.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:  h.nextID,
		hub: h,
		ch:  make(chan Envelope, h.queueSize),
	}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}
	if h.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	h.subs[sub.id] = sub

	h.logger.Info("[BUS] Subscriber added", "subscriber_id", sub.id, "topics", topics)
	return sub
}

// Handle registers fn to run inline on every published envelope, before
// it is queued for subscribers.
func (h *Hub) Handle(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, fn)
}

// Publish runs the handlers, then delivers env to every matching
// subscriber and returns how many received it.
func (h *Hub) Publish(env Envelope) int {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0
	}
	handlers := h.handlers
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}

	delivered := 0
	for _, sub := range h.subs {
		if !sub.wants(env.Topic) {
			continue
		}
		sub.offer(env, h.logger)
		delivered++
	}

	h.logger.Debug("[BUS] Envelope published",
		"topic", env.Topic,
		"publisher", env.Publisher,
		"payload_len", len(env.Payload),
		"subscribers", delivered,
	)
	return delivered
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Publishing afterwards is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.closeLocked()
		delete(h.subs, id)
	}
	h.logger.Info("[BUS] Hub closed")
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	sub.closeLocked()
	h.logger.Info("[BUS] Subscriber removed", "subscriber_id", sub.id, "dropped", sub.Dropped())
}

// Subscription is one consumer's bounded queue.
type Subscription struct {
	id      uint64
	hub     *Hub
	topics  map[string]struct{}
	ch      chan Envelope
	dropped atomic.Uint64
	closed  bool // guarded by hub.mu
	sendMu  sync.Mutex
}

func (s *Subscription) wants(topic string) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// offer enqueues env, evicting the oldest queued envelope when full.
// Called with hub.mu held for reading.
func (s *Subscription) offer(env Envelope, logger *slog.Logger) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case s.ch <- env:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
		logger.Warn("[BUS] Queue full, dropped oldest envelope",
			"subscriber_id", s.id,
			"topic", env.Topic,
		)
	default:
	}

	select {
	case s.ch <- env:
	default:
		s.dropped.Add(1)
		logger.Warn("[BUS] Failed to queue after backpressure", "subscriber_id", s.id, "topic", env.Topic)
	}
}

// closeLocked closes the channel. Called with hub.mu held for writing, so
// no offer is in progress.
func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// C returns the delivery channel. It is closed when the subscription or
// the hub is closed.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Dropped returns how many envelopes were evicted by backpressure.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. Queued envelopes can still be read
// from C until it drains.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Run calls handle for each envelope, one at a time, until ctx is done or
// the subscription is closed. It returns ctx.Err() on cancellation and nil
// once the channel is drained after close.
func (s *Subscription) Run(ctx context.Context, handle func(Envelope)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.ch:
			if !ok {
				return nil
			}
			handle(env)
		}
	}
}
