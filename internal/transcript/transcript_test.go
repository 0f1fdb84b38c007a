package transcript

import (
	"errors"
	"testing"
	"time"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

func TestAppendDeduplicates(t *testing.T) {
	t.Parallel()

	l := New()
	msg := domain.ChatMessage{ID: "m1", Timestamp: 1000, Sender: domain.SenderRemote, Text: "Starting BTC/USDT analysis"}
	if _, added, err := l.Append(msg); err != nil || !added {
		t.Fatalf("first Append() = %v, %v", added, err)
	}
	msg.Text = "edited"
	stored, added, err := l.Append(msg)
	if err != nil || added {
		t.Fatalf("duplicate Append() = %v, %v", added, err)
	}
	if stored.Text != "Starting BTC/USDT analysis" {
		t.Errorf("duplicate replaced stored text: %q", stored.Text)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestAppendAssignsTimestamp(t *testing.T) {
	t.Parallel()

	l := New()
	l.now = func() time.Time { return time.UnixMilli(42_000) }
	stored, _, err := l.Append(domain.ChatMessage{Sender: domain.SenderLocal, Text: "check btc"})
	if err != nil {
		t.Fatal(err)
	}
	if stored.Timestamp != 42_000 {
		t.Errorf("Timestamp = %d, want 42000", stored.Timestamp)
	}
	if got, ok := l.Get("ts-42000"); !ok || got.Text != "check btc" {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	t.Parallel()

	l := New()
	tests := []domain.ChatMessage{
		{Sender: "bot", Text: "hi"},
		{Sender: domain.SenderRemote, Text: "   "},
	}
	for _, msg := range tests {
		if _, _, err := l.Append(msg); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("Append(%+v) error = %v, want ErrInvalidMessage", msg, err)
		}
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	l := New()
	for i := int64(1); i <= 5; i++ {
		if _, _, err := l.Append(domain.ChatMessage{Timestamp: i, Sender: domain.SenderRemote, Text: "line"}); err != nil {
			t.Fatal(err)
		}
	}
	tail := l.Tail(2)
	if len(tail) != 2 || tail[0].Timestamp != 4 || tail[1].Timestamp != 5 {
		t.Errorf("Tail(2) = %+v", tail)
	}
	if got := len(l.Tail(0)); got != 5 {
		t.Errorf("Tail(0) len = %d, want 5", got)
	}
}
