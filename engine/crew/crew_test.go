package crew

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/compozy/conductor/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = Defaults{MaxConcurrentTasks: 3, PerformanceScore: DefaultPerformanceScore}

func validSpec() *Spec {
	return &Spec{
		ID:       "crew-1",
		Strategy: StrategyHierarchical,
		Agents: []AgentSpec{
			{ID: "lead", Role: Role{Name: "Project Manager"}},
			{ID: "dev", Role: Role{Name: "Developer"}},
		},
		Tasks: []Task{
			{ID: "plan", Description: "plan the work"},
			{ID: "build", Description: "build it", Dependencies: []string{"plan"}},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		c, err := New(validSpec(), testDefaults)
		require.NoError(t, err)
		assert.Equal(t, 3, c.MaxConcurrentTasks)
		assert.InDelta(t, 0.5, c.Agents[0].PerformanceScore(), 1e-9)
		assert.Equal(t, AgentIdle, c.Agents[1].Status())
	})

	t.Run("Should reject crews without agents", func(t *testing.T) {
		spec := validSpec()
		spec.Agents = nil
		_, err := New(spec, testDefaults)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrValidation))
	})

	t.Run("Should reject unknown strategies", func(t *testing.T) {
		spec := validSpec()
		spec.Strategy = "anarchy"
		_, err := New(spec, testDefaults)
		assert.Error(t, err)
	})

	t.Run("Should reject negative concurrency", func(t *testing.T) {
		spec := validSpec()
		spec.MaxConcurrentTasks = -1
		_, err := New(spec, testDefaults)
		assert.Error(t, err)
	})

	t.Run("Should reject duplicate ids", func(t *testing.T) {
		spec := validSpec()
		spec.Agents = append(spec.Agents, AgentSpec{ID: "dev"})
		_, err := New(spec, testDefaults)
		assert.ErrorContains(t, err, "duplicate agent id")

		spec = validSpec()
		spec.Tasks = append(spec.Tasks, Task{ID: "plan"})
		_, err = New(spec, testDefaults)
		assert.ErrorContains(t, err, "duplicate task id")
	})

	t.Run("Should reject unknown dependencies", func(t *testing.T) {
		spec := validSpec()
		spec.Tasks[1].Dependencies = []string{"ghost"}
		_, err := New(spec, testDefaults)
		assert.ErrorContains(t, err, "unknown task")
	})

	t.Run("Should reject dependency cycles", func(t *testing.T) {
		spec := validSpec()
		spec.Tasks[0].Dependencies = []string{"build"}
		_, err := New(spec, testDefaults)
		assert.ErrorContains(t, err, "cycle")
	})
}

func TestCrew_Manager(t *testing.T) {
	t.Run("Should pick the first manager role", func(t *testing.T) {
		spec := validSpec()
		spec.Agents[0].Role.Name = "Engineer"
		spec.Agents[1].Role.Name = "Engineering MANAGER"
		c, err := New(spec, testDefaults)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Manager())
	})

	t.Run("Should fall back to the first agent", func(t *testing.T) {
		spec := validSpec()
		spec.Agents[0].Role.Name = "Engineer"
		c, err := New(spec, testDefaults)
		require.NoError(t, err)
		assert.Equal(t, 0, c.Manager())
	})
}

func TestCrew_RunTasks(t *testing.T) {
	t.Run("Should hand out independent pending copies", func(t *testing.T) {
		c, err := New(validSpec(), testDefaults)
		require.NoError(t, err)
		first := c.RunTasks()
		first[0].Status = TaskCompleted
		first[1].Dependencies[0] = "mutated"
		second := c.RunTasks()
		assert.Equal(t, TaskPending, second[0].Status)
		assert.Equal(t, "plan", second[1].Dependencies[0])
	})
}

func TestAgent_Lifecycle(t *testing.T) {
	t.Run("Should never claim a busy agent", func(t *testing.T) {
		a := NewAgent(AgentSpec{ID: "a"}, 0.5)
		var claims atomic.Int32
		var wg sync.WaitGroup
		for range 50 {
			wg.Go(func() {
				if a.TryClaim() {
					claims.Add(1)
				}
			})
		}
		wg.Wait()
		assert.Equal(t, int32(1), claims.Load())
		assert.Equal(t, AgentBusy, a.Status())
	})

	t.Run("Should reward success up to the cap", func(t *testing.T) {
		a := NewAgent(AgentSpec{ID: "a", PerformanceScore: 0.95}, 0.5)
		require.True(t, a.TryClaim())
		a.Release(HistoryEntry{TaskID: "t", Success: true})
		assert.InDelta(t, 1.0, a.PerformanceScore(), 1e-9)
		assert.Equal(t, AgentIdle, a.Status())
		require.Len(t, a.History(), 1)
		assert.InDelta(t, 1.0, a.History()[0].ScoreAfter, 1e-9)
	})

	t.Run("Should penalize failure down to the floor", func(t *testing.T) {
		a := NewAgent(AgentSpec{ID: "a", PerformanceScore: 0.2}, 0.5)
		require.True(t, a.TryClaim())
		a.MarkFailed()
		assert.Equal(t, AgentError, a.Status())
		assert.False(t, a.TryClaim())
		a.Release(HistoryEntry{TaskID: "t", Success: false})
		assert.InDelta(t, 0.1, a.PerformanceScore(), 1e-9)
		assert.Equal(t, AgentIdle, a.Status())
	})
}

func TestCodec(t *testing.T) {
	t.Run("Should round-trip a crew spec through JSON", func(t *testing.T) {
		c, err := New(validSpec(), testDefaults)
		require.NoError(t, err)
		data, err := EncodeJSON(c.Spec())
		require.NoError(t, err)
		spec, err := DecodeJSON(data)
		require.NoError(t, err)
		again, err := New(spec, testDefaults)
		require.NoError(t, err)
		assert.Equal(t, c.Strategy, again.Strategy)
		assert.Equal(t, len(c.Agents), len(again.Agents))
		assert.Equal(t, c.RunTasks(), again.RunTasks())
	})

	t.Run("Should decode YAML crew files", func(t *testing.T) {
		src := `
id: research
strategy: swarm
max_concurrent_tasks: 2
agents:
  - id: r1
    role:
      name: Researcher
      expertise_areas: [search]
tasks:
  - id: t1
    description: search sources
`
		spec, err := DecodeYAML([]byte(src))
		require.NoError(t, err)
		c, err := New(spec, testDefaults)
		require.NoError(t, err)
		assert.Equal(t, StrategySwarm, c.Strategy)
		assert.Equal(t, 2, c.MaxConcurrentTasks)
	})
}
