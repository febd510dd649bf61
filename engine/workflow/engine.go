package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/expr"
	"github.com/compozy/conductor/engine/graph"
	"github.com/compozy/conductor/engine/node"
	"github.com/compozy/conductor/engine/oracle"
	"github.com/compozy/conductor/pkg/config"
	"github.com/compozy/conductor/pkg/logger"
)

// Recorder receives execution measurements.
type Recorder interface {
	WorkflowStarted(ctx context.Context)
	WorkflowFinished(ctx context.Context, status core.StatusType, d time.Duration)
	NodeExecuted(ctx context.Context, nodeType string, success bool, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) WorkflowStarted(context.Context)                                 {}
func (nopRecorder) WorkflowFinished(context.Context, core.StatusType, time.Duration) {}
func (nopRecorder) NodeExecuted(context.Context, string, bool, time.Duration)        {}

// Engine registers workflow graphs and walks them one node at a time.
type Engine struct {
	registry  *node.Registry
	evaluator expr.Evaluator
	oracle    oracle.CompletionOracle
	recorder  Recorder
	costPer1K float64

	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithCostPer1KTokens enables the cost estimate on results.
func WithCostPer1KTokens(cost float64) Option {
	return func(e *Engine) {
		e.costPer1K = cost
	}
}

func NewEngine(
	registry *node.Registry,
	evaluator expr.Evaluator,
	decider oracle.CompletionOracle,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry:  registry,
		evaluator: evaluator,
		oracle:    decider,
		recorder:  nopRecorder{},
		graphs:    make(map[string]*graph.Graph),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterWorkflow validates and stores a graph. Re-registering an id stores
// a new version; earlier versions are never mutated.
func (e *Engine) RegisterWorkflow(ctx context.Context, def *graph.Definition) (*graph.Graph, error) {
	g, err := graph.New(def)
	if err != nil {
		return nil, err
	}
	for _, edge := range g.Edges() {
		if !edge.IsConditional() {
			continue
		}
		if err := e.evaluator.ValidateExpression(edge.Condition); err != nil {
			return nil, core.NewError(err, core.ErrCodeGraphInvalid, map[string]any{
				"source": edge.Source,
				"target": edge.Target,
			})
		}
	}
	id := def.ID
	if id == "" {
		newID, err := core.NewID()
		if err != nil {
			return nil, err
		}
		id = newID.String()
	}
	e.mu.Lock()
	version := 1
	if prev, ok := e.graphs[id]; ok {
		version = prev.Version() + 1
	}
	g = g.WithVersion(id, version)
	e.graphs[id] = g
	e.mu.Unlock()
	logger.FromContext(ctx).Info("Workflow registered",
		"workflow_id", id,
		"version", version,
		"nodes", g.Len(),
	)
	return g, nil
}

// Install adds an already-validated graph, keeping its version unless a newer
// one is present.
func (e *Engine) Install(g *graph.Graph) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.graphs[g.ID()]; ok && prev.Version() >= g.Version() {
		return
	}
	e.graphs[g.ID()] = g
}

// Workflow returns the latest version of a registered graph.
func (e *Engine) Workflow(id string) (*graph.Graph, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.graphs[id]
	return g, ok
}

// Execute runs the latest version of workflowID. Only an unknown workflow is
// reported as an error; run failures are carried in the result.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any) (*ExecutionResult, error) {
	g, ok := e.Workflow(workflowID)
	if !ok {
		return nil, core.NewErrorf(core.ErrCodeNotFound, "workflow %s not found", workflowID)
	}
	return e.ExecuteGraph(ctx, g, input), nil
}

// ExecuteGraph walks g from its start node. Each node runs at most once; a
// revisit ends the run as completed and marks the result truncated.
func (e *Engine) ExecuteGraph(ctx context.Context, g *graph.Graph, input map[string]any) *ExecutionResult {
	execID := core.MustNewID()
	state := NewState(g.ID(), execID, input)
	log := logger.FromContext(ctx).With("workflow_id", g.ID(), "exec_id", execID)
	ctx = logger.ContextWithLogger(ctx, log)
	started := time.Now()
	e.recorder.WorkflowStarted(ctx)
	log.Info("Workflow execution started", "version", g.Version())

	res := &ExecutionResult{
		ExecutionID: execID,
		WorkflowID:  g.ID(),
		Version:     g.Version(),
		Status:      core.StatusCompleted,
		StartedAt:   started.UTC(),
	}
	partial := false
	current := g.StartNode()
	for current != nil {
		if err := ctx.Err(); err != nil {
			res.Status = core.StatusCanceled
			res.Error = core.NewError(err, core.ErrCodeCanceled, map[string]any{"node_id": current.ID})
			break
		}
		if state.Visited(current.ID) {
			log.Warn("Cycle detected, stopping execution", "node_id", current.ID)
			state.AddWarning("node %s already visited; execution truncated", current.ID)
			res.Truncated = true
			break
		}
		state.Enter(current.ID)
		nodeLog := e.runNode(ctx, g, state, current)
		state.Record(current.OutputKey(), nodeLog)
		if nodeLog.Status == core.StepFailed {
			if !current.ShouldContinueOnError() {
				res.Status = core.StatusFailed
				res.Error = nodeLog.Error
				break
			}
			partial = true
			log.Warn("Node failed, continuing", "node_id", current.ID, "error", nodeLog.Error)
		}
		current = e.next(ctx, g, state, current)
	}
	if res.Status == core.StatusCompleted && partial {
		res.Status = core.StatusPartialSuccess
	}

	finished := time.Now()
	res.Path = state.Path
	res.NodeLogs = state.Logs()
	res.Context = state.Context
	res.Warnings = state.Warnings
	res.Errors = state.Errors
	res.FinishedAt = finished.UTC()
	res.Duration = finished.Sub(started)
	res.TokensUsed = state.TokensUsed()
	if e.costPer1K > 0 {
		res.CostEstimate = float64(res.TokensUsed) / 1000 * e.costPer1K
	}
	e.recorder.WorkflowFinished(ctx, res.Status, res.Duration)
	log.Info("Workflow execution finished",
		"status", res.Status,
		"nodes", len(res.Path),
		"duration", res.Duration,
	)
	return res
}

func (e *Engine) runNode(ctx context.Context, g *graph.Graph, state *State, n *graph.Node) *NodeLog {
	log := logger.FromContext(ctx)
	log.Debug("Executing node", "node_id", n.ID, "type", n.Type)
	started := time.Now()
	out, err := e.registry.Execute(ctx, &node.Request{
		WorkflowID:  g.ID(),
		ExecutionID: state.StateID.WorkflowExec.String(),
		Node:        n,
		Context:     state.Snapshot(),
	})
	nodeLog := &NodeLog{
		NodeID:    n.ID,
		NodeType:  n.Type,
		Status:    core.StepSuccess,
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
	}
	if err != nil {
		nodeLog.Status = core.StepFailed
		nodeLog.Error = core.AsError(err, core.ErrCodeNodeExecution)
		log.Error("Node execution failed", "node_id", n.ID, "error", err)
	} else {
		nodeLog.Output = out.Output
		nodeLog.TokensUsed = out.TokensUsed
	}
	e.recorder.NodeExecuted(ctx, string(n.Type), err == nil, nodeLog.Duration)
	return nodeLog
}

// next picks the node to run after n, or nil when the run is over.
func (e *Engine) next(ctx context.Context, g *graph.Graph, state *State, n *graph.Node) *graph.Node {
	edges := g.Outgoing(n.ID)
	switch len(edges) {
	case 0:
		return nil
	case 1:
		target, _ := g.Node(edges[0].Target)
		return target
	}
	data := state.Snapshot()
	var unconditioned []graph.Edge
	for _, edge := range edges {
		if !edge.IsConditional() {
			unconditioned = append(unconditioned, edge)
			continue
		}
		ok, err := e.evaluator.Evaluate(ctx, edge.Condition, data)
		if err != nil {
			state.AddWarning("condition %q on edge %s->%s failed: %v", edge.Condition, edge.Source, edge.Target, err)
			continue
		}
		if ok {
			target, _ := g.Node(edge.Target)
			return target
		}
	}
	candidates := unconditioned
	if len(candidates) == 0 {
		candidates = edges
	}
	if len(candidates) == 1 {
		target, _ := g.Node(candidates[0].Target)
		return target
	}
	chosen, err := e.decide(ctx, g, state, n, candidates)
	if err != nil {
		logger.FromContext(ctx).Warn("Oracle unavailable, taking first candidate",
			"node_id", n.ID,
			"error", err,
		)
		state.AddWarning("%s: routing from %s fell back to %s: %v",
			core.ErrCodeOracleUnavailable, n.ID, candidates[0].Target, err)
		target, _ := g.Node(candidates[0].Target)
		return target
	}
	return chosen
}

func (e *Engine) decide(
	ctx context.Context,
	g *graph.Graph,
	state *State,
	n *graph.Node,
	candidates []graph.Edge,
) (*graph.Node, error) {
	if e.oracle == nil {
		return nil, errors.New("no oracle configured")
	}
	req := &oracle.DecisionRequest{
		WorkflowID:    g.ID(),
		ExecutionID:   state.StateID.WorkflowExec.String(),
		CurrentNodeID: n.ID,
		State:         state.Snapshot(),
		Candidates:    make([]oracle.Candidate, 0, len(candidates)),
	}
	for _, c := range candidates {
		target, _ := g.Node(c.Target)
		desc, _ := target.Metadata["description"].(string)
		req.Candidates = append(req.Candidates, oracle.Candidate{
			NodeID:      target.ID,
			NodeType:    string(target.Type),
			Description: desc,
		})
	}
	timeout := config.FromContext(ctx).Engine.OracleTimeout
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	decision, err := e.askOracle(callCtx, req)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, errors.New("oracle returned no decision")
	}
	for _, c := range candidates {
		if c.Target == decision.NextNodeID {
			target, _ := g.Node(c.Target)
			return target, nil
		}
	}
	return nil, fmt.Errorf("oracle chose %q which is not a candidate", decision.NextNodeID)
}

func (e *Engine) askOracle(ctx context.Context, req *oracle.DecisionRequest) (decision *oracle.Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			decision = nil
			err = oracle.ErrUnavailable("oracle panicked: %v", p)
		}
	}()
	return e.oracle.Decide(ctx, req)
}
