// Package analysis correlates the agent's free-form transcript and its
// out-of-band events into tracked analysis sessions.
package analysis

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/clock"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// DefaultDisplayDelay is how long a new session stays pending before it is
// shown as active.
const DefaultDisplayDelay = 4 * time.Second

// Config tunes the engine.
type Config struct {
	// Timeout is the watchdog delay. Zero means DefaultTimeout.
	Timeout time.Duration
	// DisplayDelay is the pending to active delay. Zero creates sessions
	// directly as active.
	DisplayDelay time.Duration
	// PlaceholderSymbol is used when a start names no instrument.
	PlaceholderSymbol string
	// DefaultTimeframe is used when a start names no timeframe.
	DefaultTimeframe string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		DisplayDelay:      DefaultDisplayDelay,
		PlaceholderSymbol: PlaceholderSymbol,
		DefaultTimeframe:  DefaultTimeframe,
	}
}

// ChangeKind names a registry change delivered to observers.
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeUpdated   ChangeKind = "updated"
	ChangeActivated ChangeKind = "activated"
	ChangeCompleted ChangeKind = "completed"
	ChangeExpired   ChangeKind = "expired"
)

// Change describes one mutation of a session. Session is a copy taken
// right after the mutation.
type Change struct {
	Kind    ChangeKind              `json:"kind"`
	Session *domain.AnalysisSession `json:"session"`
	Rule    Rule                    `json:"rule,omitempty"`
	At      time.Time               `json:"at"`
}

// Observer receives changes in the order they happened. Observers run
// while the engine is locked: they must not block and must not call back
// into the Engine.
type Observer func(Change)

// Engine is the single owner of the registry, the active-session pointer
// and the processed-message set. Every operation, including timer
// callbacks, runs under one mutex.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
	registry  *Registry
	watchdog  *Watchdog
	display   *timerSet
	activeID  string
	processed map[string]struct{}
	observers map[int]Observer
	nextObs   int
	closed    bool
}

// NewEngine creates an engine. A nil clock uses the real clock and a nil
// logger uses slog.Default().
func NewEngine(cfg Config, clk clock.Clock, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DisplayDelay < 0 {
		cfg.DisplayDelay = 0
	}
	if cfg.PlaceholderSymbol == "" {
		cfg.PlaceholderSymbol = PlaceholderSymbol
	}
	if cfg.DefaultTimeframe == "" {
		cfg.DefaultTimeframe = DefaultTimeframe
	}

	e := &Engine{
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		registry:  NewRegistry(clk),
		display:   newTimerSet(clk),
		processed: make(map[string]struct{}),
		observers: make(map[int]Observer),
	}
	e.watchdog = NewWatchdog(clk, cfg.Timeout, e.expire)
	return e
}

// Subscribe registers an observer and returns a function that removes it.
func (e *Engine) Subscribe(obs Observer) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = obs
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// HandleMessage classifies one transcript message. Messages already seen
// (by id, else timestamp) and local messages are skipped. Completion is
// checked before start.
func (e *Engine) HandleMessage(msg domain.ChatMessage) Classification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handleMessageLocked(msg)
}

// HandleMessages processes a transcript in order, skipping entries that
// were already handled. It returns how many messages were classified as a
// start or completion.
func (e *Engine) HandleMessages(msgs []domain.ChatMessage) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, msg := range msgs {
		if e.handleMessageLocked(msg) != ClassNone {
			n++
		}
	}
	return n
}

func (e *Engine) handleMessageLocked(msg domain.ChatMessage) Classification {
	if e.closed {
		return ClassNone
	}
	key := msg.Key()
	if _, seen := e.processed[key]; seen {
		return ClassNone
	}
	e.processed[key] = struct{}{}

	if !msg.IsRemote() {
		return ClassNone
	}

	if ClassifyCompletion(msg.Text) {
		e.completeActiveLocked(msg)
		return ClassCompletion
	}

	cue, ok := ClassifyStart(msg.Text)
	if !ok {
		return ClassNone
	}
	e.startFromMessageLocked(key, cue)
	return ClassStart
}

// startFromMessageLocked binds a start message to the unbound active
// session when the message can describe it: it names no instrument, the
// same instrument, or the session still carries the placeholder. A
// different concrete instrument starts a new session.
func (e *Engine) startFromMessageLocked(key string, cue StartCue) {
	if e.activeID != "" {
		active, ok := e.registry.Get(e.activeID)
		placeholder := ok && SameSymbol(active.Symbol, e.cfg.PlaceholderSymbol)
		describes := !cue.SymbolFound || placeholder || (ok && SameSymbol(active.Symbol, cue.Symbol))
		if ok && active.Status.InFlight() && !active.IsBound() && describes {
			patch := Patch{BoundMessageID: &key}
			if placeholder {
				if cue.SymbolFound {
					patch.Symbol = &cue.Symbol
				}
				if cue.TimeframeFound {
					patch.Timeframe = &cue.Timeframe
				}
			}
			if _, err := e.registry.Update(active.ID, patch); err != nil {
				e.logger.Error("[ENGINE] Failed to bind start message", "session_id", active.ID, "error", err)
				return
			}
			e.logger.Info("[ENGINE] Start message bound to active session",
				"session_id", active.ID,
				"message_key", key,
			)
			e.notifyLocked(ChangeUpdated, active.ID, "")
			return
		}
	}

	symbol := cue.Symbol
	if !cue.SymbolFound {
		symbol = e.cfg.PlaceholderSymbol
	}
	timeframe := cue.Timeframe
	if !cue.TimeframeFound {
		timeframe = e.cfg.DefaultTimeframe
	}
	e.startSessionLocked(symbol, timeframe, key, "")
}

func (e *Engine) completeActiveLocked(msg domain.ChatMessage) {
	if e.activeID == "" {
		e.logger.Info("[ENGINE] Completion without active session", "message_key", msg.Key())
		return
	}
	id := e.activeID
	status, ok := e.registry.status(id)
	if !ok || !status.InFlight() {
		e.activeID = ""
		return
	}

	complete := domain.StatusComplete
	patch := Patch{Status: &complete}
	if verdict, found := ExtractVerdict(msg.Text); found {
		patch.Data = domain.Snapshot{"verdict": verdict}
	}
	if _, err := e.registry.Update(id, patch); err != nil {
		e.logger.Error("[ENGINE] Failed to complete session", "session_id", id, "error", err)
		return
	}
	e.watchdog.Disarm(id)
	e.display.cancel(id)
	e.activeID = ""

	e.logger.Info("[ENGINE] Session completed", "session_id", id, "message_key", msg.Key())
	e.notifyLocked(ChangeCompleted, id, "")
}

// startSessionLocked creates a session, makes it the active one and arms
// its timers. A previously active session stays in flight until its own
// watchdog or a data event resolves it.
func (e *Engine) startSessionLocked(symbol, timeframe, boundKey string, rule Rule) string {
	status := domain.StatusPending
	if e.cfg.DisplayDelay == 0 {
		status = domain.StatusActive
	}
	id := e.registry.Create(Seed{
		Symbol:         symbol,
		Timeframe:      timeframe,
		Status:         status,
		BoundMessageID: boundKey,
	})

	if e.activeID != "" {
		e.logger.Info("[ENGINE] Active session superseded", "session_id", e.activeID, "by", id)
	}
	e.activeID = id
	e.watchdog.Arm(id)
	if status == domain.StatusPending {
		e.display.schedule(id, e.cfg.DisplayDelay, e.promote)
	}

	e.logger.Info("[ENGINE] Session created",
		"session_id", id,
		"symbol", symbol,
		"timeframe", timeframe,
		"bound", boundKey != "",
	)
	e.notifyLocked(ChangeCreated, id, rule)
	return id
}

// HandleEnvelope decodes a raw event and applies it. Decode failures wrap
// ErrMalformedEvent and leave the registry untouched.
func (e *Engine) HandleEnvelope(topic string, payload []byte) (Resolution, error) {
	ev, err := DecodeEvent(topic, payload)
	if err != nil {
		e.logger.Warn("[ENGINE] Dropping malformed event", "topic", topic, "error", err)
		return Resolution{Action: ActionDrop}, err
	}
	return e.HandleEvent(ev), nil
}

// Consume applies a bus envelope. It is meant to be registered with
// bus.Hub.Handle so events are applied in the order they are published,
// interleaved with transcript messages under the same lock.
func (e *Engine) Consume(env bus.Envelope) {
	res, err := e.HandleEnvelope(env.Topic, env.Payload)
	if err != nil {
		return
	}
	e.logger.Debug("[ENGINE] Event resolved",
		"topic", env.Topic,
		"publisher", env.Publisher,
		"action", res.Action,
		"rule", res.Rule,
		"session_id", res.SessionID,
	)
}

// HandleEvent resolves ev against the registry and applies it.
func (e *Engine) HandleEvent(ev Event) Resolution {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Resolution{Action: ActionDrop}
	}

	res := Resolve(ev, e.registry, e.activeID)
	switch res.Action {
	case ActionCreate:
		symbol := ev.Symbol
		if symbol == "" {
			symbol = e.cfg.PlaceholderSymbol
		}
		timeframe := ev.Timeframe
		if timeframe == "" {
			timeframe = e.cfg.DefaultTimeframe
		}
		res.SessionID = e.startSessionLocked(symbol, timeframe, "", res.Rule)

	case ActionBind:
		patch := Patch{Data: ev.Payload}
		if ev.Symbol != "" {
			patch.Symbol = &ev.Symbol
		}
		if ev.Timeframe != "" {
			patch.Timeframe = &ev.Timeframe
		}
		changed, err := e.registry.Update(res.SessionID, patch)
		if err != nil {
			e.logger.Error("[ENGINE] Failed to apply data event", "session_id", res.SessionID, "error", err)
			return Resolution{Action: ActionDrop, Rule: res.Rule}
		}
		if !changed {
			e.logger.Debug("[ENGINE] Data event already applied", "session_id", res.SessionID, "rule", res.Rule)
			break
		}
		e.logger.Debug("[ENGINE] Data event applied",
			"session_id", res.SessionID,
			"rule", res.Rule,
			"symbol", ev.Symbol,
		)
		e.notifyLocked(ChangeUpdated, res.SessionID, res.Rule)

	case ActionDrop:
		e.logger.Warn("[ENGINE] Data event dropped",
			"rule", res.Rule,
			"symbol", ev.Symbol,
			"error", ErrEmptyRegistry,
		)
	}
	return res
}

func (e *Engine) promote(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	status, ok := e.registry.status(id)
	if !ok || status != domain.StatusPending {
		return
	}
	active := domain.StatusActive
	if _, err := e.registry.Update(id, Patch{Status: &active}); err != nil {
		e.logger.Error("[ENGINE] Failed to activate session", "session_id", id, "error", err)
		return
	}
	e.notifyLocked(ChangeActivated, id, "")
}

func (e *Engine) expire(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	status, ok := e.registry.status(id)
	if !ok || !status.InFlight() {
		return
	}
	expired := domain.StatusExpired
	if _, err := e.registry.Update(id, Patch{Status: &expired}); err != nil {
		e.logger.Error("[ENGINE] Failed to expire session", "session_id", id, "error", err)
		return
	}
	e.display.cancel(id)
	if e.activeID == id {
		e.activeID = ""
	}
	e.logger.Warn("[ENGINE] Session expired", "session_id", id, "timeout", e.cfg.Timeout)
	e.notifyLocked(ChangeExpired, id, "")
}

func (e *Engine) notifyLocked(kind ChangeKind, id string, rule Rule) {
	if len(e.observers) == 0 {
		return
	}
	s, ok := e.registry.Get(id)
	if !ok {
		return
	}
	change := Change{Kind: kind, Session: s, Rule: rule, At: e.clock.Now()}
	for i := 0; i < e.nextObs; i++ {
		if obs, ok := e.observers[i]; ok {
			obs(change)
		}
	}
}

// Sessions returns copies of every session in creation order.
func (e *Engine) Sessions() []*domain.AnalysisSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.ListAll()
}

// InFlight returns copies of pending and active sessions.
func (e *Engine) InFlight() []*domain.AnalysisSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.ListActive()
}

// Session returns a copy of one session.
func (e *Engine) Session(id string) (*domain.AnalysisSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// SessionForMessage returns the session bound to a transcript message key.
func (e *Engine) SessionForMessage(messageKey string) (*domain.AnalysisSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.registry.ByMessage(messageKey)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageKey, ErrSessionNotFound)
	}
	return s, nil
}

// Orphans returns sessions not bound to any transcript message.
func (e *Engine) Orphans() []*domain.AnalysisSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Unbound()
}

// ActiveID returns the active session id, or "" when none is active.
func (e *Engine) ActiveID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID
}

// Close cancels every pending timer. Later calls are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.watchdog.Stop()
	e.display.cancelAll()
	e.logger.Info("[ENGINE] Stopped")
}
