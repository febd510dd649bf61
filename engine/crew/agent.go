package crew

import (
	"sync"
	"time"
)

// AgentStatus is the claim state of an agent.
type AgentStatus string

const (
	AgentIdle  AgentStatus = "idle"
	AgentBusy  AgentStatus = "busy"
	AgentError AgentStatus = "error"
)

const (
	DefaultPerformanceScore = 0.5
	successReward           = 0.1
	failurePenalty          = 0.2
	minPerformanceScore     = 0.1
	maxPerformanceScore     = 1.0
)

// Capability is something an agent can do, optionally backed by a named tool.
type Capability struct {
	Name        string `json:"name"                  yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Tool        string `json:"tool,omitempty"        yaml:"tool,omitempty"`
}

// Role describes an agent's function within a crew.
type Role struct {
	Name           string       `json:"name"                      yaml:"name"`
	Capabilities   []Capability `json:"capabilities,omitempty"    yaml:"capabilities,omitempty"`
	ExpertiseAreas []string     `json:"expertise_areas,omitempty" yaml:"expertise_areas,omitempty"`
}

// AgentSpec is the serializable form of an agent.
type AgentSpec struct {
	ID               string         `json:"id"                          yaml:"id"`
	Role             Role           `json:"role"                        yaml:"role"`
	ModelParams      map[string]any `json:"model_params,omitempty"      yaml:"model_params,omitempty"`
	PerformanceScore float64        `json:"performance_score,omitempty" yaml:"performance_score,omitempty"`
}

// HistoryEntry records one task an agent worked on.
type HistoryEntry struct {
	ExecutionID string        `json:"execution_id"`
	TaskID      string        `json:"task_id"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	ScoreAfter  float64       `json:"score_after"`
	At          time.Time     `json:"at"`
}

// Agent is a crew member shared by every run of its crew. Status, score and
// history are guarded by the agent's mutex.
type Agent struct {
	ID          string
	Role        Role
	ModelParams map[string]any

	mu      sync.Mutex
	score   float64
	status  AgentStatus
	history []HistoryEntry
}

// NewAgent builds an idle agent. A non-positive score uses defaultScore.
func NewAgent(spec AgentSpec, defaultScore float64) *Agent {
	score := spec.PerformanceScore
	if score <= 0 {
		score = defaultScore
	}
	if score <= 0 {
		score = DefaultPerformanceScore
	}
	return &Agent{
		ID:          spec.ID,
		Role:        spec.Role,
		ModelParams: spec.ModelParams,
		score:       clampScore(score),
		status:      AgentIdle,
	}
}

func (a *Agent) PerformanceScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.score
}

func (a *Agent) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// History returns a copy of the collaboration log.
func (a *Agent) History() []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]HistoryEntry, len(a.history))
	copy(out, a.history)
	return out
}

// TryClaim moves the agent from idle to busy. It never claims a busy agent.
func (a *Agent) TryClaim() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != AgentIdle {
		return false
	}
	a.status = AgentBusy
	return true
}

// MarkFailed flags a busy agent as errored until Release is called.
func (a *Agent) MarkFailed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == AgentBusy {
		a.status = AgentError
	}
}

// Release applies the score update for entry, appends it to the history and
// returns the agent to idle.
func (a *Agent) Release(entry HistoryEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry.Success {
		a.score = min(a.score+successReward, maxPerformanceScore)
	} else {
		a.score = max(a.score-failurePenalty, minPerformanceScore)
	}
	entry.ScoreAfter = a.score
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	a.history = append(a.history, entry)
	a.status = AgentIdle
}

// Spec snapshots the agent, including its current score.
func (a *Agent) Spec() AgentSpec {
	return AgentSpec{
		ID:               a.ID,
		Role:             a.Role,
		ModelParams:      a.ModelParams,
		PerformanceScore: a.PerformanceScore(),
	}
}

func clampScore(s float64) float64 {
	return min(max(s, minPerformanceScore), maxPerformanceScore)
}
