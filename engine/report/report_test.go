package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/infra/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ err error }

func (f failing) Report(context.Context, Event) error { return f.err }

func TestNewEvent(t *testing.T) {
	t.Run("Should stamp unique ids", func(t *testing.T) {
		a := NewEvent(KindWorkflow, "wf", 1, "exec")
		b := NewEvent(KindWorkflow, "wf", 1, "exec")
		assert.NotEmpty(t, a.EventID)
		assert.NotEqual(t, a.EventID, b.EventID)
		assert.False(t, a.At.IsZero())
	})
}

func TestPubSubReporter(t *testing.T) {
	t.Run("Should publish events as JSON", func(t *testing.T) {
		provider := pubsub.NewMemoryProvider()
		sub, err := provider.Subscribe(t.Context(), "executions")
		require.NoError(t, err)
		t.Cleanup(func() { _ = sub.Close() })
		evt := NewEvent(KindCrew, "crew-1", 2, "exec-1")
		evt.Status = core.StatusPartialSuccess
		evt.Duration = 1500 * time.Millisecond
		evt.TokensUsed = 42
		require.NoError(t, NewPubSubReporter(provider, "executions").Report(t.Context(), evt))
		select {
		case msg := <-sub.Messages():
			got, err := Decode(msg.Payload)
			require.NoError(t, err)
			assert.Equal(t, evt.EventID, got.EventID)
			assert.Equal(t, KindCrew, got.Kind)
			assert.Equal(t, core.StatusPartialSuccess, got.Status)
			assert.Equal(t, evt.Duration, got.Duration)
			assert.Equal(t, 42, got.TokensUsed)
		case <-time.After(time.Second):
			t.Fatal("no event published")
		}
	})
}

func TestMulti(t *testing.T) {
	t.Run("Should report to every reporter and join errors", func(t *testing.T) {
		boom := errors.New("boom")
		m := Multi{Nop{}, LogReporter{}, failing{err: boom}}
		err := m.Report(t.Context(), NewEvent(KindWorkflow, "wf", 1, "exec"))
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, Multi{Nop{}, LogReporter{}}.Report(t.Context(), Event{}))
	})
}
