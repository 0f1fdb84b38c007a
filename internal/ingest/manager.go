// Package ingest accepts the agent's out-of-band events over websocket
// and publishes them onto the bus.
package ingest

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager tracks the live publisher connections.
type ConnectionManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
	logger *slog.Logger
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		active: make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Get returns the connection registered for a publisher.
func (m *ConnectionManager) Get(publisherID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[publisherID]
}

// Register adds a connection, closing any older one from the same
// publisher.
func (m *ConnectionManager) Register(publisherID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[publisherID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "publisher replaced")
	}

	m.active[publisherID] = conn
	m.logger.Info("[INGEST] Publisher registered", "publisher", publisherID)
}

// Unregister removes conn if it is still the publisher's current one.
func (m *ConnectionManager) Unregister(publisherID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[publisherID]; exists && current == conn {
		delete(m.active, publisherID)
		m.logger.Info("[INGEST] Publisher unregistered", "publisher", publisherID)
	}
}

// Len returns the number of connected publishers.
func (m *ConnectionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll terminates every connection.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		m.logger.Info("[INGEST] Publisher closed", "publisher", id)
	}
	m.active = make(map[string]*websocket.Conn)
}
