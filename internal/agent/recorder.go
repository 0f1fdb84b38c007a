package agent

import (
	"time"

	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// Conversation log channels.
const (
	ChannelTranscript = "transcript"
	ChannelEvents     = "agent_events"
	ChannelAnalysis   = "analysis"
)

// Recorder maps desk traffic onto conversation log events.
type Recorder struct {
	log            ConversationLogger
	conversationID string
}

// NewRecorder creates a recorder. A nil log discards everything.
func NewRecorder(log ConversationLogger, conversationID string) *Recorder {
	if log == nil {
		log = noopConversationLogger{}
	}
	return &Recorder{log: log, conversationID: conversationID}
}

// Message records a transcript line.
func (r *Recorder) Message(msg domain.ChatMessage) {
	direction := "outbound"
	if msg.IsRemote() {
		direction = "inbound"
	}
	r.log.Log(ConversationLogEvent{
		Timestamp:      time.UnixMilli(msg.Timestamp).UTC().Format(time.RFC3339Nano),
		ConversationID: r.conversationID,
		Channel:        ChannelTranscript,
		Direction:      direction,
		EventType:      "chat_" + string(msg.Sender) + "_message",
		ContentRaw:     msg.Text,
		Meta: map[string]any{
			"message_key": msg.Key(),
		},
	})
}

// Envelope records an out-of-band event as published.
func (r *Recorder) Envelope(env bus.Envelope) {
	r.log.Log(ConversationLogEvent{
		Timestamp:      env.ReceivedAt.UTC().Format(time.RFC3339Nano),
		ConversationID: r.conversationID,
		Channel:        ChannelEvents,
		Direction:      "inbound",
		EventType:      "agent_" + env.Topic,
		ContentRaw:     string(env.Payload),
		Content:        string(env.Payload),
		Meta: map[string]any{
			"publisher": env.Publisher,
		},
	})
}

// Change records a session change. It is safe to use as an
// analysis.Observer.
func (r *Recorder) Change(c analysis.Change) {
	s := c.Session
	meta := map[string]any{
		"symbol":    s.Symbol,
		"timeframe": s.Timeframe,
		"status":    s.Status,
	}
	if c.Rule != "" {
		meta["rule"] = c.Rule
	}
	if s.BoundMessageID != "" {
		meta["bound_message_id"] = s.BoundMessageID
	}
	r.log.Log(ConversationLogEvent{
		Timestamp:      c.At.UTC().Format(time.RFC3339Nano),
		ConversationID: r.conversationID,
		SessionID:      s.ID,
		Channel:        ChannelAnalysis,
		Direction:      "internal",
		EventType:      "analysis_" + string(c.Kind),
		Meta:           meta,
	})
}
