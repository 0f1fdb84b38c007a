package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// archiveTimeout bounds a single archive write.
const archiveTimeout = 5 * time.Second

type archiveJob struct {
	message *domain.ChatMessage
	event   *EventRecord
	session *domain.AnalysisSession
}

// Archiver writes to a Repository in the background so callers on the hot
// path (engine observers, HTTP handlers) never wait for SQLite.
type Archiver struct {
	repo           Repository
	conversationID string
	jobs           chan archiveJob
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	logger         *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewArchiver starts the background writer.
func NewArchiver(repo Repository, conversationID string, queueSize int, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		repo:           repo,
		conversationID: conversationID,
		jobs:           make(chan archiveJob, queueSize),
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Message queues a transcript message.
func (a *Archiver) Message(msg domain.ChatMessage) {
	a.enqueue(archiveJob{message: &msg})
}

// Event queues a raw agent event.
func (a *Archiver) Event(ev EventRecord) {
	a.enqueue(archiveJob{event: &ev})
}

// Session queues a session snapshot. The session must not be mutated by
// the caller afterwards.
func (a *Archiver) Session(s *domain.AnalysisSession) {
	a.enqueue(archiveJob{session: s})
}

func (a *Archiver) enqueue(job archiveJob) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		return
	}
	select {
	case a.jobs <- job:
	default:
		a.logger.Warn("[ARCHIVE] Queue full, dropping write", "queue_len", len(a.jobs))
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()
	a.logger.Info("[ARCHIVE] Writer started", "conversation_id", a.conversationID)
	for job := range a.jobs {
		a.apply(job)
	}
	a.logger.Info("[ARCHIVE] Writer stopped", "conversation_id", a.conversationID)
}

func (a *Archiver) apply(job archiveJob) {
	ctx, cancel := context.WithTimeout(a.ctx, archiveTimeout)
	defer cancel()

	var err error
	var kind string
	switch {
	case job.message != nil:
		kind = "message"
		err = a.repo.AppendMessage(ctx, a.conversationID, *job.message)
	case job.event != nil:
		kind = "event"
		err = a.repo.AppendEvent(ctx, a.conversationID, *job.event)
	case job.session != nil:
		kind = "session"
		err = a.repo.SaveAnalysis(ctx, a.conversationID, job.session)
	}
	if err != nil {
		a.logger.Error("[ARCHIVE] Write failed", "kind", kind, "error", err)
	}
}

// Close drains queued writes and stops the writer. It does not close the
// repository.
func (a *Archiver) Close() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	close(a.jobs)
	a.mu.Unlock()

	a.wg.Wait()
	a.cancel()
}
