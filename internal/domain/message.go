// Package domain contains the core types shared by the desk's components.
package domain

import "strconv"

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	// SenderLocal is the user at the desk.
	SenderLocal Sender = "local"
	// SenderRemote is the analytic agent.
	SenderRemote Sender = "remote"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderLocal || s == SenderRemote
}

// ChatMessage is one entry of the conversation transcript.
type ChatMessage struct {
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
}

// IsRemote returns true if the message came from the agent.
func (m ChatMessage) IsRemote() bool {
	return m.Sender == SenderRemote
}

// Key identifies the message for de-duplication and session binding: the
// id when present, otherwise the timestamp.
func (m ChatMessage) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return "ts-" + strconv.FormatInt(m.Timestamp, 10)
}
