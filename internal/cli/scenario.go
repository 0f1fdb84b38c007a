package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/cryptomind-desk/internal/domain"
)

// Scenario is a scripted conversation replayed against a desk.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Say   *SayStep   `yaml:"say,omitempty"`
	Event *EventStep `yaml:"event,omitempty"`
	Wait  string     `yaml:"wait,omitempty"`
}

// SayStep appends a transcript message.
type SayStep struct {
	ID     string `yaml:"id,omitempty"`
	Sender string `yaml:"sender"`
	Text   string `yaml:"text"`
}

// EventStep publishes an out-of-band event.
type EventStep struct {
	Topic   string         `yaml:"topic"`
	Payload map[string]any `yaml:"payload"`
}

// LoadScenario parses and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return ParseScenario(f)
}

// ParseScenario parses and validates a scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	for i, step := range sc.Steps {
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &sc, nil
}

func (s Step) validate() error {
	set := 0
	if s.Say != nil {
		set++
		if !domain.Sender(s.Say.Sender).Valid() {
			return fmt.Errorf("say: unknown sender %q", s.Say.Sender)
		}
	}
	if s.Event != nil {
		set++
		if s.Event.Topic == "" {
			return errors.New("event: topic is required")
		}
	}
	if s.Wait != "" {
		set++
		if _, err := time.ParseDuration(s.Wait); err != nil {
			return fmt.Errorf("wait: %w", err)
		}
	}
	if set != 1 {
		return fmt.Errorf("expected exactly one of say, event, wait; got %d", set)
	}
	return nil
}

// Desk is what a scenario drives.
type Desk interface {
	Say(ctx context.Context, msg domain.ChatMessage) (*AppendResult, error)
	PublishEvent(ctx context.Context, topic string, payload []byte) error
}

// StepResult reports one executed step.
type StepResult struct {
	Index  int
	Kind   string
	Detail string
}

// Run executes the scenario in order and reports each step to report.
func (sc *Scenario) Run(ctx context.Context, desk Desk, report func(StepResult)) error {
	for i, step := range sc.Steps {
		res := StepResult{Index: i + 1}
		switch {
		case step.Say != nil:
			out, err := desk.Say(ctx, domain.ChatMessage{
				ID:     step.Say.ID,
				Sender: domain.Sender(step.Say.Sender),
				Text:   step.Say.Text,
			})
			if err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
			res.Kind, res.Detail = "say", out.Classification
		case step.Event != nil:
			payload, err := json.Marshal(step.Event.Payload)
			if err != nil {
				return fmt.Errorf("step %d: encode payload: %w", i+1, err)
			}
			if err := desk.PublishEvent(ctx, step.Event.Topic, payload); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
			res.Kind, res.Detail = "event", step.Event.Topic
		default:
			d, _ := time.ParseDuration(step.Wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
			res.Kind, res.Detail = "wait", step.Wait
		}
		if report != nil {
			report(res)
		}
	}
	return nil
}
