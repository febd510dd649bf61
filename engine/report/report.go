package report

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/infra/pubsub"
	"github.com/compozy/conductor/pkg/logger"
	"github.com/google/uuid"
)

// Kind tells workflow and crew events apart.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindCrew     Kind = "crew"
)

// Event is the flat record handed downstream once an execution finishes.
type Event struct {
	EventID      string          `json:"event_id"`
	Kind         Kind            `json:"kind"`
	DefinitionID string          `json:"definition_id"`
	Version      int             `json:"version"`
	ExecutionID  string          `json:"execution_id"`
	Status       core.StatusType `json:"status"`
	Duration     time.Duration   `json:"duration"`
	TokensUsed   int             `json:"tokens_used"`
	CostEstimate float64         `json:"cost_estimate,omitempty"`
	At           time.Time       `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind Kind, definitionID string, version int, executionID string) Event {
	return Event{
		EventID:      uuid.NewString(),
		Kind:         kind,
		DefinitionID: definitionID,
		Version:      version,
		ExecutionID:  executionID,
		At:           time.Now().UTC(),
	}
}

// Reporter receives finished-execution events.
type Reporter interface {
	Report(ctx context.Context, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Report(context.Context, Event) error { return nil }

// LogReporter writes events to the context logger.
type LogReporter struct{}

func (LogReporter) Report(ctx context.Context, evt Event) error {
	logger.FromContext(ctx).Info("Execution reported",
		"kind", evt.Kind,
		"definition_id", evt.DefinitionID,
		"exec_id", evt.ExecutionID,
		"status", evt.Status,
		"duration", evt.Duration,
		"tokens_used", evt.TokensUsed,
		"cost_estimate", evt.CostEstimate,
	)
	return nil
}

// PubSubReporter publishes events as JSON on a channel.
type PubSubReporter struct {
	provider pubsub.Provider
	channel  string
}

func NewPubSubReporter(provider pubsub.Provider, channel string) *PubSubReporter {
	return &PubSubReporter{provider: provider, channel: channel}
}

func (r *PubSubReporter) Report(ctx context.Context, evt Event) error {
	payload, err := sonic.Marshal(evt)
	if err != nil {
		return err
	}
	return r.provider.Publish(ctx, r.channel, payload)
}

// Decode parses a payload published by PubSubReporter.
func Decode(payload []byte) (Event, error) {
	var evt Event
	err := sonic.Unmarshal(payload, &evt)
	return evt, err
}

// Multi fans an event out to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, evt Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
