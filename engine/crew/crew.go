package crew

import (
	"strings"

	"github.com/compozy/conductor/engine/core"
)

// Strategy selects how a crew distributes its tasks.
type Strategy string

const (
	StrategyHierarchical Strategy = "hierarchical"
	StrategyDemocratic   Strategy = "democratic"
	StrategySwarm        Strategy = "swarm"
)

func (s Strategy) IsValid() bool {
	switch s {
	case StrategyHierarchical, StrategyDemocratic, StrategySwarm:
		return true
	}
	return false
}

// Spec is the serializable form of a crew.
type Spec struct {
	ID                 string         `json:"id"                             yaml:"id"`
	Name               string         `json:"name,omitempty"                 yaml:"name,omitempty"`
	Version            int            `json:"version,omitempty"              yaml:"version,omitempty"`
	Strategy           Strategy       `json:"strategy"                       yaml:"strategy"`
	MaxConcurrentTasks int            `json:"max_concurrent_tasks,omitempty" yaml:"max_concurrent_tasks,omitempty"`
	ModelParams        map[string]any `json:"model_params,omitempty"         yaml:"model_params,omitempty"`
	Agents             []AgentSpec    `json:"agents"                         yaml:"agents"`
	Tasks              []Task         `json:"tasks"                          yaml:"tasks"`
}

// Defaults fill spec fields left at their zero value.
type Defaults struct {
	MaxConcurrentTasks int
	PerformanceScore   float64
}

// Crew is a validated crew definition plus its shared agent pool.
type Crew struct {
	ID                 string
	Name               string
	Version            int
	Strategy           Strategy
	MaxConcurrentTasks int
	ModelParams        map[string]any
	Agents             []*Agent

	tasks []Task
}

// New validates spec and builds the crew. Errors carry the CREW_INVALID code.
func New(spec *Spec, defaults Defaults) (*Crew, error) {
	if spec == nil {
		return nil, core.ValidationError(core.ErrCodeCrewInvalid, "crew definition is required")
	}
	if len(spec.Agents) == 0 {
		return nil, core.ValidationError(core.ErrCodeCrewInvalid, "crew %q has no agents", spec.ID)
	}
	if !spec.Strategy.IsValid() {
		return nil, core.ValidationError(core.ErrCodeCrewInvalid, "unknown strategy %q", spec.Strategy)
	}
	maxTasks := spec.MaxConcurrentTasks
	if maxTasks == 0 {
		maxTasks = defaults.MaxConcurrentTasks
	}
	if maxTasks < 1 {
		return nil, core.ValidationError(core.ErrCodeCrewInvalid,
			"max_concurrent_tasks must be at least 1, got %d", spec.MaxConcurrentTasks)
	}
	agents := make([]*Agent, 0, len(spec.Agents))
	seenAgents := make(map[string]struct{}, len(spec.Agents))
	for i, a := range spec.Agents {
		if a.ID == "" {
			return nil, core.ValidationError(core.ErrCodeCrewInvalid, "agent at position %d has empty id", i)
		}
		if _, dup := seenAgents[a.ID]; dup {
			return nil, core.ValidationError(core.ErrCodeCrewInvalid, "duplicate agent id %q", a.ID)
		}
		if a.PerformanceScore < 0 || a.PerformanceScore > maxPerformanceScore {
			return nil, core.ValidationError(core.ErrCodeCrewInvalid,
				"agent %q performance score %.2f outside [0,1]", a.ID, a.PerformanceScore)
		}
		seenAgents[a.ID] = struct{}{}
		agents = append(agents, NewAgent(a, defaults.PerformanceScore))
	}
	if err := validateTasks(spec.Tasks); err != nil {
		return nil, err
	}
	tasks := make([]Task, len(spec.Tasks))
	for i := range spec.Tasks {
		tasks[i] = spec.Tasks[i].Copy()
	}
	return &Crew{
		ID:                 spec.ID,
		Name:               spec.Name,
		Version:            spec.Version,
		Strategy:           spec.Strategy,
		MaxConcurrentTasks: maxTasks,
		ModelParams:        core.CloneMap(spec.ModelParams),
		Agents:             agents,
		tasks:              tasks,
	}, nil
}

func validateTasks(tasks []Task) error {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return core.ValidationError(core.ErrCodeCrewInvalid, "task at position %d has empty id", i)
		}
		if _, dup := index[t.ID]; dup {
			return core.ValidationError(core.ErrCodeCrewInvalid, "duplicate task id %q", t.ID)
		}
		index[t.ID] = i
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := index[dep]; !ok {
				return core.ValidationError(core.ErrCodeCrewInvalid,
					"task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	if cycle := findCycle(tasks, index); len(cycle) > 0 {
		return core.ValidationError(core.ErrCodeCrewInvalid,
			"task dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

func findCycle(tasks []Task, index map[string]int) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(tasks))
	var stack []string
	var visit func(i int) []string
	visit = func(i int) []string {
		state[i] = visiting
		stack = append(stack, tasks[i].ID)
		for _, dep := range tasks[i].Dependencies {
			j := index[dep]
			switch state[j] {
			case visiting:
				for k, id := range stack {
					if id == dep {
						return append(append([]string(nil), stack[k:]...), dep)
					}
				}
			case unvisited:
				if c := visit(j); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		return nil
	}
	for i := range tasks {
		if state[i] == unvisited {
			if c := visit(i); c != nil {
				return c
			}
		}
	}
	return nil
}

// WithVersion returns a shallow copy stamped with id and version. The agent
// pool stays shared.
func (c *Crew) WithVersion(id string, version int) *Crew {
	cp := *c
	cp.ID = id
	cp.Version = version
	return &cp
}

// RunTasks returns fresh pending copies of the task list for one run.
func (c *Crew) RunTasks() []Task {
	out := make([]Task, len(c.tasks))
	for i := range c.tasks {
		out[i] = c.tasks[i].Copy()
	}
	return out
}

// Manager returns the index of the first agent whose role name contains
// "manager", or 0.
func (c *Crew) Manager() int {
	for i, a := range c.Agents {
		if strings.Contains(strings.ToLower(a.Role.Name), "manager") {
			return i
		}
	}
	return 0
}

// Agent looks an agent up by id.
func (c *Crew) Agent(id string) (*Agent, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Spec snapshots the crew, including current agent scores.
func (c *Crew) Spec() *Spec {
	spec := &Spec{
		ID:                 c.ID,
		Name:               c.Name,
		Version:            c.Version,
		Strategy:           c.Strategy,
		MaxConcurrentTasks: c.MaxConcurrentTasks,
		ModelParams:        core.CloneMap(c.ModelParams),
		Agents:             make([]AgentSpec, len(c.Agents)),
		Tasks:              c.RunTasks(),
	}
	for i, a := range c.Agents {
		spec.Agents[i] = a.Spec()
	}
	for i := range spec.Tasks {
		spec.Tasks[i].Status = ""
	}
	return spec
}
