package node

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/graph"
)

// Request is what an executor receives for one node visit.
type Request struct {
	WorkflowID  string
	ExecutionID string
	Node        *graph.Node
	// Context is a snapshot of the execution context; executors must not
	// retain it.
	Context map[string]any
}

// Result is a node's output plus the tokens it consumed.
type Result struct {
	Output     any
	TokensUsed int
}

// Executor handles one node type.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *Request) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}

// Registry dispatches nodes to executors by type tag.
type Registry struct {
	mu        sync.RWMutex
	executors map[graph.NodeType]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[graph.NodeType]Executor)}
}

// Register binds an executor to a known node type.
func (r *Registry) Register(nodeType graph.NodeType, exec Executor) error {
	if !nodeType.IsKnown() {
		return core.ValidationError(core.ErrCodeValidation, "unknown node type %q", nodeType)
	}
	if exec == nil {
		return core.ValidationError(core.ErrCodeValidation, "executor for %q is nil", nodeType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = exec
	return nil
}

// Lookup returns the executor bound to nodeType.
func (r *Registry) Lookup(nodeType graph.NodeType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[nodeType]
	return exec, ok
}

// Execute runs the node through its executor. Missing executors fail with
// UNSUPPORTED_NODE_TYPE; executor errors and panics become
// NODE_EXECUTION_ERROR.
func (r *Registry) Execute(ctx context.Context, req *Request) (res *Result, err error) {
	exec, ok := r.Lookup(req.Node.Type)
	if !ok {
		return nil, core.NewErrorf(core.ErrCodeUnsupportedNodeType,
			"no executor registered for node type %q", req.Node.Type).
			WithDetail("node_id", req.Node.ID)
	}
	timeout, err := req.Node.TimeoutDuration()
	if err != nil {
		return nil, core.NewError(err, core.ErrCodeNodeExecution, map[string]any{"node_id": req.Node.ID})
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = core.NewError(fmt.Errorf("executor panic: %v", p), core.ErrCodeNodeExecution, map[string]any{
				"node_id": req.Node.ID,
				"stack":   string(debug.Stack()),
			})
		}
	}()
	res, err = exec.Execute(ctx, req)
	if err != nil {
		return nil, core.NewError(err, core.ErrCodeNodeExecution, map[string]any{"node_id": req.Node.ID})
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}
