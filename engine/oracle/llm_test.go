package oracle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type scriptedModel struct {
	replies []string
	errs    []error
	calls   atomic.Int32
	info    map[string]any
}

func (m *scriptedModel) GenerateContent(
	_ context.Context,
	_ []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	i := int(m.calls.Add(1)) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	reply := ""
	if len(m.replies) > 0 {
		reply = m.replies[min(i, len(m.replies)-1)]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply, GenerationInfo: m.info}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func decisionRequest() *DecisionRequest {
	return &DecisionRequest{
		CurrentNodeID: "triage",
		State:         map[string]any{"ticket": "refund"},
		Candidates:    []Candidate{{NodeID: "billing"}, {NodeID: "support"}},
	}
}

func TestLLMOracle_Complete(t *testing.T) {
	t.Run("Should return text and provider token usage", func(t *testing.T) {
		model := &scriptedModel{replies: []string{"done"}, info: map[string]any{"TotalTokens": 42}}
		o := NewLLMOracle(model)
		out, err := o.Complete(t.Context(), "summarize", ModelParams{"temperature": 0.2, "max_tokens": 100})
		require.NoError(t, err)
		assert.Equal(t, "done", out.Text)
		assert.Equal(t, 42, out.TokensUsed)
	})

	t.Run("Should estimate tokens without usage info", func(t *testing.T) {
		o := NewLLMOracle(&scriptedModel{replies: []string{"two words"}})
		out, err := o.Complete(t.Context(), "one", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, out.TokensUsed)
	})

	t.Run("Should retry transient failures", func(t *testing.T) {
		model := &scriptedModel{replies: []string{"ok"}, errs: []error{errors.New("503")}}
		o := NewLLMOracle(model, WithRetryAttempts(2))
		out, err := o.Complete(t.Context(), "hi", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", out.Text)
		assert.Equal(t, int32(2), model.calls.Load())
	})

	t.Run("Should report exhausted retries as oracle unavailable", func(t *testing.T) {
		boom := errors.New("down")
		model := &scriptedModel{errs: []error{boom, boom}}
		o := NewLLMOracle(model, WithRetryAttempts(1))
		_, err := o.Complete(t.Context(), "hi", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrOracleUnavailable))
	})
}

func TestLLMOracle_Decide(t *testing.T) {
	t.Run("Should parse a fenced JSON decision", func(t *testing.T) {
		reply := "Sure!\n```json\n{\"next_node_id\":\"support\",\"confidence\":0.8,\"rationale\":\"needs a human\"}\n```"
		o := NewLLMOracle(&scriptedModel{replies: []string{reply}})
		d, err := o.Decide(t.Context(), decisionRequest())
		require.NoError(t, err)
		assert.Equal(t, "support", d.NextNodeID)
		assert.InDelta(t, 0.8, d.Confidence, 1e-9)
		assert.Equal(t, "needs a human", d.Rationale)
	})

	t.Run("Should reject unknown targets", func(t *testing.T) {
		o := NewLLMOracle(&scriptedModel{replies: []string{`{"next_node_id":"nowhere"}`}})
		_, err := o.Decide(t.Context(), decisionRequest())
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrOracleUnavailable))
	})

	t.Run("Should reject prose replies", func(t *testing.T) {
		o := NewLLMOracle(&scriptedModel{replies: []string{"billing, probably"}}, WithRetryAttempts(0))
		_, err := o.Decide(t.Context(), decisionRequest())
		assert.Error(t, err)
	})
}

func TestMockModel(t *testing.T) {
	t.Run("Should route to the first candidate", func(t *testing.T) {
		o := NewLLMOracle(NewMockModel("mock"))
		d, err := o.Decide(t.Context(), decisionRequest())
		require.NoError(t, err)
		assert.Equal(t, "billing", d.NextNodeID)
	})

	t.Run("Should echo completions", func(t *testing.T) {
		o := NewLLMOracle(NewMockModel("mock"))
		out, err := o.Complete(t.Context(), "write a haiku", nil)
		require.NoError(t, err)
		assert.Equal(t, "Mock response for: write a haiku", out.Text)
		assert.Positive(t, out.TokensUsed)
	})
}

func TestNewModel(t *testing.T) {
	t.Run("Should build the mock model by default", func(t *testing.T) {
		model, err := NewModel(&config.LLMConfig{Provider: "mock"})
		require.NoError(t, err)
		assert.IsType(t, &MockModel{}, model)
	})

	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := NewModel(&config.LLMConfig{Provider: "carrier-pigeon"})
		assert.Error(t, err)
	})

	t.Run("Should build an oracle from configuration", func(t *testing.T) {
		o, err := New(config.Default())
		require.NoError(t, err)
		assert.NotNil(t, o)
	})
}

func TestFunc(t *testing.T) {
	t.Run("Should fail when no function is configured", func(t *testing.T) {
		var f Func
		_, err := f.Decide(t.Context(), decisionRequest())
		assert.True(t, errors.Is(err, core.ErrOracleUnavailable))
	})
}
