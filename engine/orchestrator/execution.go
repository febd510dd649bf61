package orchestrator

import (
	"context"

	"github.com/compozy/conductor/engine/collab"
	"github.com/compozy/conductor/engine/report"
	"github.com/compozy/conductor/engine/workflow"
	"github.com/compozy/conductor/pkg/logger"
)

// Execution is a finished run kept in the recent-results cache. Exactly one
// of Workflow and Crew is set.
type Execution struct {
	Workflow *workflow.ExecutionResult   `json:"workflow,omitempty"`
	Crew     *collab.CollaborationResult `json:"crew,omitempty"`
}

// Outcome is delivered on the channels returned by the async entry points.
type Outcome[T any] struct {
	Result T
	Err    error
}

// GetExecution looks up a recent execution by id.
func (s *Service) GetExecution(execID string) (*Execution, bool) {
	return s.results.Get(execID)
}

func (s *Service) report(ctx context.Context, evt report.Event) {
	if err := s.reporter.Report(ctx, evt); err != nil {
		logger.FromContext(ctx).Warn("Failed to report execution", "exec_id", evt.ExecutionID, "error", err)
	}
}

// async runs fn on its own goroutine and delivers its outcome on a buffered
// channel, so an abandoned channel never blocks the run.
func async[T any](fn func() (T, error)) <-chan Outcome[T] {
	out := make(chan Outcome[T], 1)
	go func() {
		defer close(out)
		res, err := fn()
		out <- Outcome[T]{Result: res, Err: err}
	}()
	return out
}
