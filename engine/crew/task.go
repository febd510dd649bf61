package crew

import (
	"time"

	"github.com/compozy/conductor/engine/core"
)

// TaskStatus tracks a task within one crew run.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a unit of crew work.
type Task struct {
	ID           string         `json:"id"                     yaml:"id"`
	Description  string         `json:"description"            yaml:"description"`
	Priority     int            `json:"priority,omitempty"     yaml:"priority,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Input        map[string]any `json:"input,omitempty"        yaml:"input,omitempty"`

	Status        TaskStatus    `json:"status,omitempty"         yaml:"-"`
	AssignedAgent string        `json:"assigned_agent,omitempty" yaml:"-"`
	Result        any           `json:"result,omitempty"         yaml:"-"`
	Error         *core.Error   `json:"error,omitempty"          yaml:"-"`
	Duration      time.Duration `json:"duration,omitempty"       yaml:"-"`
}

// Copy returns a pending copy of the task definition for a new run.
func (t *Task) Copy() Task {
	cp := Task{
		ID:           t.ID,
		Description:  t.Description,
		Priority:     t.Priority,
		Dependencies: append([]string(nil), t.Dependencies...),
		Input:        core.CloneMap(t.Input),
		Status:       TaskPending,
	}
	return cp
}
