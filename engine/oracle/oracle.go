package oracle

import (
	"context"
)

// ModelParams are provider-agnostic generation settings (model, temperature,
// max_tokens, ...).
type ModelParams map[string]any

// Candidate is a routing option offered to Decide.
type Candidate struct {
	NodeID      string `json:"node_id"`
	NodeType    string `json:"node_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// DecisionRequest asks the oracle to choose the next node.
type DecisionRequest struct {
	WorkflowID    string         `json:"workflow_id"`
	ExecutionID   string         `json:"execution_id"`
	CurrentNodeID string         `json:"current_node_id"`
	State         map[string]any `json:"state"`
	Candidates    []Candidate    `json:"candidates"`
}

// Decision is the oracle's routing choice.
type Decision struct {
	NextNodeID string  `json:"next_node_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Completion is generated text plus its token usage.
type Completion struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// CompletionOracle makes routing decisions and generates text.
type CompletionOracle interface {
	Decide(ctx context.Context, req *DecisionRequest) (*Decision, error)
	Complete(ctx context.Context, prompt string, params ModelParams) (*Completion, error)
}

// Func adapts plain functions to CompletionOracle. A nil function fails with
// ErrOracleUnavailable.
type Func struct {
	DecideFn   func(ctx context.Context, req *DecisionRequest) (*Decision, error)
	CompleteFn func(ctx context.Context, prompt string, params ModelParams) (*Completion, error)
}

func (f *Func) Decide(ctx context.Context, req *DecisionRequest) (*Decision, error) {
	if f.DecideFn == nil {
		return nil, ErrUnavailable("decide not configured")
	}
	return f.DecideFn(ctx, req)
}

func (f *Func) Complete(ctx context.Context, prompt string, params ModelParams) (*Completion, error) {
	if f.CompleteFn == nil {
		return nil, ErrUnavailable("complete not configured")
	}
	return f.CompleteFn(ctx, prompt, params)
}
