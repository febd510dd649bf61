package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/crew"
	"github.com/compozy/conductor/engine/graph"
	"github.com/compozy/conductor/engine/infra/pubsub"
	"github.com/compozy/conductor/engine/invoker"
	"github.com/compozy/conductor/engine/oracle"
	"github.com/compozy/conductor/engine/report"
	"github.com/compozy/conductor/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"
)

type captureReporter struct {
	mu     sync.Mutex
	events []report.Event
}

func (c *captureReporter) Report(_ context.Context, evt report.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureReporter) all() []report.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]report.Event(nil), c.events...)
}

func echoOracle() *oracle.Func {
	return &oracle.Func{
		CompleteFn: func(_ context.Context, prompt string, _ oracle.ModelParams) (*oracle.Completion, error) {
			return &oracle.Completion{Text: "echo", TokensUsed: 100}, nil
		},
		DecideFn: func(_ context.Context, req *oracle.DecisionRequest) (*oracle.Decision, error) {
			return &oracle.Decision{NextNodeID: req.Candidates[len(req.Candidates)-1].NodeID}, nil
		},
	}
}

func newService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	tools := invoker.NewToolRegistry()
	require.NoError(t, tools.Register("double", func(_ context.Context, params map[string]any) (any, error) {
		switch n := params["n"].(type) {
		case int:
			return map[string]any{"n": n * 2}, nil
		case float64:
			return map[string]any{"n": int(n) * 2}, nil
		}
		return nil, errors.New("n must be a number")
	}))
	base := []Option{WithOracle(echoOracle()), WithTools(tools), WithMeter(noop.NewMeterProvider().Meter("test"))}
	svc, err := New(t.Context(), cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func pipeline() *graph.Definition {
	return &graph.Definition{
		ID: "pipeline",
		Nodes: []graph.Node{
			{ID: "draft", Type: graph.NodeTypeLLM, Config: map[string]any{"prompt": "Draft about {{ .topic }}"}},
			{ID: "double", Type: graph.NodeTypeTool, Config: map[string]any{
				"tool":       "double",
				"parameters": map[string]any{"n": 21},
			}},
			{ID: "check", Type: graph.NodeTypeCondition, Config: map[string]any{"expression": "double.n == 42"}},
		},
		Edges: []graph.Edge{
			{Source: "draft", Target: "double"},
			{Source: "double", Target: "check"},
		},
	}
}

func team() *crew.Spec {
	return &crew.Spec{
		ID:       "team",
		Strategy: crew.StrategyHierarchical,
		Agents: []crew.AgentSpec{
			{ID: "analyst", Role: crew.Role{Name: "Analyst", Capabilities: []crew.Capability{{Name: "analysis"}}}},
			{ID: "writer", Role: crew.Role{Name: "Writer", Capabilities: []crew.Capability{{Name: "writing"}}}},
		},
		Tasks: []crew.Task{
			{ID: "analyze", Description: "Analyze the report"},
			{ID: "write", Description: "Writing the summary", Dependencies: []string{"analyze"}},
		},
	}
}

func TestService_Workflows(t *testing.T) {
	t.Run("Should register and execute a workflow end to end", func(t *testing.T) {
		cfg := config.Default()
		cfg.Report.CostPer1KTokens = 0.02
		rep := &captureReporter{}
		svc := newService(t, cfg, WithReporter(rep))
		id, err := svc.RegisterWorkflow(t.Context(), pipeline())
		require.NoError(t, err)
		res, err := svc.ExecuteWorkflow(t.Context(), id, map[string]any{"topic": "go"})
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, res.Status)
		assert.Equal(t, []string{"draft", "double", "check"}, res.Path)
		assert.Equal(t, map[string]any{"result": true}, res.Context["check"])
		assert.InDelta(t, 0.002, res.CostEstimate, 1e-9)

		cached, ok := svc.GetExecution(res.ExecutionID.String())
		require.True(t, ok)
		assert.Same(t, res, cached.Workflow)
		events := rep.all()
		require.Len(t, events, 1)
		assert.Equal(t, report.KindWorkflow, events[0].Kind)
		assert.Equal(t, "pipeline", events[0].DefinitionID)
		assert.Equal(t, core.StatusCompleted, events[0].Status)

		snap := svc.GetMetrics()
		assert.Equal(t, int64(1), snap.Workflows.Completed)
		assert.Equal(t, int64(3), snap.NodesExecuted)
	})

	t.Run("Should surface registration errors", func(t *testing.T) {
		svc := newService(t, config.Default())
		_, err := svc.RegisterWorkflow(t.Context(), &graph.Definition{ID: "empty"})
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("Should fail for unknown workflows", func(t *testing.T) {
		svc := newService(t, config.Default())
		_, err := svc.ExecuteWorkflow(t.Context(), "nope", nil)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Should run many executions concurrently", func(t *testing.T) {
		svc := newService(t, config.Default())
		id, err := svc.RegisterWorkflow(t.Context(), pipeline())
		require.NoError(t, err)
		g, ctx := errgroup.WithContext(t.Context())
		for range 10 {
			g.Go(func() error {
				out := <-svc.ExecuteWorkflowAsync(ctx, id, map[string]any{"topic": "x"})
				if out.Err != nil {
					return out.Err
				}
				if out.Result.Status != core.StatusCompleted {
					return errors.New(string(out.Result.Status))
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		snap := svc.GetMetrics()
		assert.Equal(t, int64(10), snap.Workflows.Total)
		assert.Equal(t, int64(0), snap.Workflows.Active)
	})
}

func TestService_Crews(t *testing.T) {
	t.Run("Should create and execute a crew", func(t *testing.T) {
		rep := &captureReporter{}
		svc := newService(t, config.Default(), WithReporter(rep))
		id, err := svc.CreateCrew(t.Context(), team())
		require.NoError(t, err)
		out := <-svc.ExecuteCrewAsync(t.Context(), id, nil)
		require.NoError(t, out.Err)
		res := out.Result
		assert.Equal(t, core.StatusCompleted, res.Status)
		assert.Equal(t, "analyst", res.Tasks[0].AgentID)
		assert.Equal(t, "writer", res.Tasks[1].AgentID)
		assert.Equal(t, 200, res.TokensUsed)
		cached, ok := svc.GetExecution(res.ExecutionID.String())
		require.True(t, ok)
		assert.Same(t, res, cached.Crew)
		require.Len(t, rep.all(), 1)
		assert.Equal(t, report.KindCrew, rep.all()[0].Kind)
		assert.Equal(t, int64(1), svc.GetMetrics().Crews.Completed)
		assert.Equal(t, int64(2), svc.GetMetrics().TasksExecuted)
	})

	t.Run("Should fail for unknown crews", func(t *testing.T) {
		svc := newService(t, config.Default())
		_, err := svc.ExecuteCrew(t.Context(), "nope", nil)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestService_Persistence(t *testing.T) {
	t.Run("Should share definitions between services through redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.Default()
		cfg.Store.Driver = "redis"
		cfg.Redis.Addr = mr.Addr()

		first := newService(t, cfg)
		_, err := first.RegisterWorkflow(t.Context(), pipeline())
		require.NoError(t, err)
		_, err = first.CreateCrew(t.Context(), team())
		require.NoError(t, err)

		second := newService(t, cfg)
		wf, err := second.ExecuteWorkflow(t.Context(), "pipeline", map[string]any{"topic": "redis"})
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, wf.Status)
		assert.Equal(t, 1, wf.Version)
		cr, err := second.ExecuteCrew(t.Context(), "team", nil)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, cr.Status)

		_, err = second.RegisterWorkflow(t.Context(), pipeline())
		require.NoError(t, err)
		again, err := first.ExecuteWorkflow(t.Context(), "pipeline", map[string]any{"topic": "v"})
		require.NoError(t, err)
		assert.Equal(t, 1, again.Version, "first service keeps its loaded version")
		latest, ok := second.workflows.Workflow("pipeline")
		require.True(t, ok)
		assert.Equal(t, 2, latest.Version())
	})
}

func TestService_Reporting(t *testing.T) {
	t.Run("Should publish events on the configured channel", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		provider, err := pubsub.NewRedisProvider(client)
		require.NoError(t, err)
		sub, err := provider.Subscribe(t.Context(), "conductor:executions")
		require.NoError(t, err)
		t.Cleanup(func() { _ = sub.Close() })

		cfg := config.Default()
		cfg.Store.Driver = "redis"
		cfg.Report.Enabled = true
		svc := newService(t, cfg, WithRedisClient(client))
		id, err := svc.RegisterWorkflow(t.Context(), pipeline())
		require.NoError(t, err)
		res, err := svc.ExecuteWorkflow(t.Context(), id, map[string]any{"topic": "events"})
		require.NoError(t, err)
		select {
		case msg := <-sub.Messages():
			evt, err := report.Decode(msg.Payload)
			require.NoError(t, err)
			assert.Equal(t, res.ExecutionID.String(), evt.ExecutionID)
		case <-time.After(2 * time.Second):
			t.Fatal("no execution event published")
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("Should build from defaults with the mock model", func(t *testing.T) {
		svc, err := New(t.Context(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = svc.Close(context.Background()) })
		assert.NotNil(t, svc.Monitoring())
		assert.False(t, svc.Monitoring().IsInitialized())
	})

	t.Run("Should reject unknown store drivers", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.Driver = "badger"
		_, err := New(t.Context(), cfg, WithOracle(echoOracle()))
		assert.ErrorContains(t, err, "unknown store driver")
	})
}
