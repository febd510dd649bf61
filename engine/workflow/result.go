package workflow

import (
	"time"

	"github.com/compozy/conductor/engine/core"
)

// ExecutionResult summarizes a finished workflow execution.
type ExecutionResult struct {
	ExecutionID  core.ID         `json:"execution_id"`
	WorkflowID   string          `json:"workflow_id"`
	Version      int             `json:"version"`
	Status       core.StatusType `json:"status"`
	Path         []string        `json:"path"`
	NodeLogs     []*NodeLog      `json:"node_logs"`
	Context      map[string]any  `json:"context"`
	Warnings     []string        `json:"warnings,omitempty"`
	Errors       []*core.Error   `json:"errors,omitempty"`
	Error        *core.Error     `json:"error,omitempty"`
	Truncated    bool            `json:"truncated,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Duration     time.Duration   `json:"duration"`
	TokensUsed   int             `json:"tokens_used"`
	CostEstimate float64         `json:"cost_estimate,omitempty"`
}
