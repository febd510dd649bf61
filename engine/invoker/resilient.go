package invoker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/conductor/pkg/config"
	"github.com/slok/goresilience"
	"github.com/slok/goresilience/circuitbreaker"
	rerrors "github.com/slok/goresilience/errors"
	"github.com/slok/goresilience/retry"
	"github.com/slok/goresilience/timeout"
)

// ResilienceConfig holds configuration for resilience patterns
type ResilienceConfig struct {
	TimeoutDuration             time.Duration
	ErrorPercentThresholdToOpen int
	MinimumRequestToOpen        int
	WaitDurationInOpenState     time.Duration
	RetryTimes                  int
	RetryWaitBase               time.Duration
}

// ResilienceFromConfig maps integration settings onto a resilience policy
// with the given per-call timeout.
func ResilienceFromConfig(cfg *config.IntegrationConfig, callTimeout time.Duration) *ResilienceConfig {
	return &ResilienceConfig{
		TimeoutDuration:             callTimeout,
		ErrorPercentThresholdToOpen: cfg.ErrorPercentThresholdToOpen,
		MinimumRequestToOpen:        cfg.MinimumRequestToOpen,
		WaitDurationInOpenState:     cfg.WaitDurationInOpenState,
		RetryTimes:                  cfg.RetryTimes,
		RetryWaitBase:               cfg.RetryWaitBase,
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = rerrors.ErrCircuitOpen

func newRunner(cfg *ResilienceConfig) goresilience.Runner {
	middlewares := make([]goresilience.Middleware, 0, 3)
	if cfg.TimeoutDuration > 0 {
		middlewares = append(middlewares, timeout.NewMiddleware(timeout.Config{Timeout: cfg.TimeoutDuration}))
	}
	middlewares = append(middlewares, circuitbreaker.NewMiddleware(circuitbreaker.Config{
		ErrorPercentThresholdToOpen:        cfg.ErrorPercentThresholdToOpen,
		MinimumRequestToOpen:               cfg.MinimumRequestToOpen,
		SuccessfulRequiredOnHalfOpen:       1,
		WaitDurationInOpenState:            cfg.WaitDurationInOpenState,
		MetricsSlidingWindowBucketQuantity: 10,
		MetricsBucketDuration:              1 * time.Second,
	}))
	if cfg.RetryTimes > 0 {
		middlewares = append(middlewares, retry.NewMiddleware(retry.Config{
			Times:    cfg.RetryTimes,
			WaitBase: cfg.RetryWaitBase,
		}))
	}
	return goresilience.RunnerChain(middlewares...)
}

// runnerSet keeps one middleware chain per key so a failing tool or
// integration only trips its own breaker.
type runnerSet struct {
	cfg     *ResilienceConfig
	mu      sync.Mutex
	runners map[string]goresilience.Runner
}

func newRunnerSet(cfg *ResilienceConfig) *runnerSet {
	return &runnerSet{cfg: cfg, runners: make(map[string]goresilience.Runner)}
}

func (s *runnerSet) get(key string) goresilience.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[key]
	if !ok {
		r = newRunner(s.cfg)
		s.runners[key] = r
	}
	return r
}

// ResilientIntegration wraps an IntegrationInvoker with timeout, circuit
// breaker and retry middleware, tracked per integration type.
type ResilientIntegration struct {
	next    IntegrationInvoker
	runners *runnerSet
}

func NewResilientIntegration(next IntegrationInvoker, cfg *ResilienceConfig) *ResilientIntegration {
	return &ResilientIntegration{next: next, runners: newRunnerSet(cfg)}
}

func (r *ResilientIntegration) Invoke(ctx context.Context, integrationType string, cfg map[string]any) (any, error) {
	var result any
	err := run(ctx, r.runners.get(integrationType), func(ctx context.Context) error {
		var err error
		result, err = r.next.Invoke(ctx, integrationType, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResilientTool wraps a ToolInvoker with the same middleware chain, one per
// tool name.
type ResilientTool struct {
	next    ToolInvoker
	runners *runnerSet
}

func NewResilientTool(next ToolInvoker, cfg *ResilienceConfig) *ResilientTool {
	return &ResilientTool{next: next, runners: newRunnerSet(cfg)}
}

func (r *ResilientTool) Invoke(ctx context.Context, toolName string, params map[string]any) (any, error) {
	var result any
	err := run(ctx, r.runners.get(toolName), func(ctx context.Context) error {
		var err error
		result, err = r.next.Invoke(ctx, toolName, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func run(ctx context.Context, runner goresilience.Runner, fn func(ctx context.Context) error) error {
	err := runner.Run(ctx, func(ctx context.Context) (runErr error) {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return fn(ctx)
	})
	if errors.Is(err, rerrors.ErrTimeout) {
		return fmt.Errorf("call timed out: %w", context.DeadlineExceeded)
	}
	return err
}
