package orchestrator

import (
	"context"
	"errors"

	"github.com/compozy/conductor/engine/graph"
	"github.com/compozy/conductor/engine/report"
	"github.com/compozy/conductor/engine/store"
	"github.com/compozy/conductor/engine/workflow"
	"github.com/compozy/conductor/pkg/logger"
	pkgerrors "github.com/pkg/errors"
)

// RegisterWorkflow validates def, stores it as the next version of its id
// and returns the id.
func (s *Service) RegisterWorkflow(ctx context.Context, def *graph.Definition) (string, error) {
	ctx = s.withConfig(ctx)
	if def != nil && def.ID != "" {
		if err := s.loadWorkflow(ctx, def.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	g, err := s.workflows.RegisterWorkflow(ctx, def)
	if err != nil {
		return "", err
	}
	payload, err := g.MarshalJSON()
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to encode workflow %s", g.ID())
	}
	if _, err := s.store.Put(ctx, &store.Record{
		Kind:    store.KindWorkflow,
		ID:      g.ID(),
		Version: g.Version(),
		Payload: payload,
	}); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to persist workflow %s", g.ID())
	}
	return g.ID(), nil
}

// ExecuteWorkflow runs the latest version of workflowID, loading it from the
// store when this process has not seen it.
func (s *Service) ExecuteWorkflow(
	ctx context.Context,
	workflowID string,
	input map[string]any,
) (*workflow.ExecutionResult, error) {
	ctx = s.withConfig(ctx)
	if _, ok := s.workflows.Workflow(workflowID); !ok {
		if err := s.loadWorkflow(ctx, workflowID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	res, err := s.workflows.Execute(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}
	s.results.Add(res.ExecutionID.String(), &Execution{Workflow: res})
	evt := report.NewEvent(report.KindWorkflow, res.WorkflowID, res.Version, res.ExecutionID.String())
	evt.Status = res.Status
	evt.Duration = res.Duration
	evt.TokensUsed = res.TokensUsed
	evt.CostEstimate = res.CostEstimate
	s.report(ctx, evt)
	return res, nil
}

// ExecuteWorkflowAsync runs ExecuteWorkflow on its own goroutine.
func (s *Service) ExecuteWorkflowAsync(
	ctx context.Context,
	workflowID string,
	input map[string]any,
) <-chan Outcome[*workflow.ExecutionResult] {
	return async(func() (*workflow.ExecutionResult, error) {
		return s.ExecuteWorkflow(ctx, workflowID, input)
	})
}

func (s *Service) loadWorkflow(ctx context.Context, id string) error {
	if _, ok := s.workflows.Workflow(id); ok {
		return nil
	}
	rec, err := s.store.Get(ctx, store.KindWorkflow, id)
	if err != nil {
		return err
	}
	g, err := graph.DecodeJSON(rec.Payload)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to load workflow %s v%d", id, rec.Version)
	}
	s.workflows.Install(g.WithVersion(rec.ID, rec.Version))
	logger.FromContext(ctx).Debug("Workflow loaded from store", "workflow_id", id, "version", rec.Version)
	return nil
}
