package expr

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

const (
	defaultCostLimit = uint64(1000)
	defaultCacheSize = int64(1000)
)

// Evaluator decides conditional edges and condition nodes.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error)
	ValidateExpression(expression string) error
}

// CELEvaluator evaluates sandboxed CEL expressions. Expressions see the
// execution context keys as top-level identifiers and have no access to I/O or
// host functions; evaluation cost is bounded by costLimit.
type CELEvaluator struct {
	env          *cel.Env
	costLimit    uint64
	cacheSize    int64
	programCache *ristretto.Cache[string, cel.Program]
}

type Option func(*CELEvaluator)

// WithCostLimit bounds the runtime cost of a single evaluation.
func WithCostLimit(limit uint64) Option {
	return func(e *CELEvaluator) {
		if limit > 0 {
			e.costLimit = limit
		}
	}
}

// WithCacheSize bounds the number of compiled programs kept.
func WithCacheSize(size int64) Option {
	return func(e *CELEvaluator) {
		if size > 0 {
			e.cacheSize = size
		}
	}
}

func NewCELEvaluator(opts ...Option) (*CELEvaluator, error) {
	e := &CELEvaluator{costLimit: defaultCostLimit, cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(e)
	}
	env, err := cel.NewEnv(cel.CrossTypeNumericComparisons(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, cel.Program]{
		NumCounters: e.cacheSize * 10,
		MaxCost:     e.cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}
	e.env = env
	e.programCache = cache
	return e, nil
}

// ValidateExpression reports syntax errors without evaluating.
func (e *CELEvaluator) ValidateExpression(expression string) error {
	_, iss := e.env.Parse(expression)
	if iss != nil && iss.Err() != nil {
		return fmt.Errorf("invalid expression %q: %w", expression, iss.Err())
	}
	return nil
}

// Evaluate runs expression against data and requires a boolean result.
func (e *CELEvaluator) Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prg.ContextEval(ctx, data)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}
	if out.Type() != types.BoolType {
		return false, fmt.Errorf("expression %q must return a boolean, got %s", expression, out.Type().TypeName())
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned non-boolean value", expression)
	}
	return result, nil
}

// Close releases the program cache.
func (e *CELEvaluator) Close() {
	e.programCache.Close()
}

func (e *CELEvaluator) program(expression string) (cel.Program, error) {
	if prg, ok := e.programCache.Get(expression); ok {
		return prg, nil
	}
	ast, iss := e.env.Parse(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, iss.Err())
	}
	prg, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expression, err)
	}
	e.programCache.Set(expression, prg, 1)
	return prg, nil
}
