package invoker

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/compozy/conductor/engine/core"
)

// ToolInvoker runs a named tool with parameters.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, params map[string]any) (any, error)
}

// IntegrationInvoker triggers an external automation or job system.
type IntegrationInvoker interface {
	Invoke(ctx context.Context, integrationType string, cfg map[string]any) (any, error)
}

// ToolFunc is an in-process tool implementation.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// IntegrationFunc adapts a function to IntegrationInvoker.
type IntegrationFunc func(ctx context.Context, integrationType string, cfg map[string]any) (any, error)

func (f IntegrationFunc) Invoke(ctx context.Context, integrationType string, cfg map[string]any) (any, error) {
	return f(ctx, integrationType, cfg)
}

// ToolRegistry is a concurrency-safe ToolInvoker over named ToolFuncs.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolFunc)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(name string, fn ToolFunc) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s has no implementation", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
	return nil
}

// Names lists registered tools in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *ToolRegistry) Invoke(ctx context.Context, toolName string, params map[string]any) (any, error) {
	r.mu.RLock()
	fn, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewErrorf(core.ErrCodeNotFound, "tool %s not found", toolName)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx, core.CloneMap(params))
}
