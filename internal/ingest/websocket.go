package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/identity"
)

const writeTimeout = 5 * time.Second

// Recorder receives every accepted envelope before it is published.
type Recorder interface {
	Envelope(env bus.Envelope)
}

// wsMessage is an inbound frame. Payload is passed to the bus untouched.
type wsMessage struct {
	Type    string          `json:"type,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsReply is written back for every frame.
type wsReply struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Error string `json:"error,omitempty"`
}

// WebSocketHandler serves /ws/events.
type WebSocketHandler struct {
	hub           *bus.Hub
	cm            *ConnectionManager
	recorder      Recorder
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
	now           func() time.Time
}

// NewWebSocketHandler creates a new WebSocket handler. The route is
// expected to sit behind identity.Middleware, which sets the publisher.
func NewWebSocketHandler(hub *bus.Hub, cm *ConnectionManager, recorder Recorder, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:           hub,
		cm:            cm,
		recorder:      recorder,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
		now:           time.Now,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	publisher := identity.PublisherFromContext(r.Context())
	if publisher == identity.DefaultPublisherID {
		if generated, err := identity.GeneratePublisherID(); err == nil {
			publisher = generated
		}
	}
	h.logger.Info("[INGEST] WebSocket connection request", "publisher", publisher, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("[INGEST] Failed to accept WebSocket", "error", err, "publisher", publisher)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "publisher done"); closeErr != nil {
			h.logger.Debug("[INGEST] Failed to close websocket", "error", closeErr, "publisher", publisher)
		}
	}()

	h.cm.Register(publisher, ws)
	defer h.cm.Unregister(publisher, ws)

	h.readLoop(r.Context(), ws, publisher)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("[INGEST] WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, publisher string) {
	accepted := 0
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Info("[INGEST] WebSocket closed", "publisher", publisher, "accepted", accepted)
			} else {
				h.logger.Warn("[INGEST] WebSocket read error", "error", err, "publisher", publisher)
			}
			return
		}

		reply := h.handleFrame(message, publisher)
		if reply.Type == "ack" {
			accepted++
		}
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			h.logger.Debug("[INGEST] Failed to send reply", "error", err, "type", reply.Type)
			return
		}
	}
}

func (h *WebSocketHandler) handleFrame(message []byte, publisher string) wsReply {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return wsReply{Type: "error", Error: "frame is not JSON"}
	}
	if msg.Type == "ping" {
		return wsReply{Type: "pong"}
	}

	topic := strings.TrimSpace(msg.Topic)
	if topic == "" {
		return wsReply{Type: "error", Error: "topic is required"}
	}
	if len(msg.Payload) == 0 {
		return wsReply{Type: "error", Topic: topic, Error: "payload is required"}
	}

	env := bus.Envelope{
		Topic:      topic,
		Payload:    []byte(msg.Payload),
		Publisher:  publisher,
		ReceivedAt: h.now(),
	}
	if h.recorder != nil {
		h.recorder.Envelope(env)
	}
	h.hub.Publish(env)
	return wsReply{Type: "ack", Topic: topic}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
