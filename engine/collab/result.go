package collab

import (
	"time"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/crew"
)

// TaskRecord is the outcome of one task within a crew run.
type TaskRecord struct {
	TaskID     string          `json:"task_id"`
	AgentID    string          `json:"agent_id,omitempty"`
	Status     crew.TaskStatus `json:"status"`
	Output     any             `json:"output,omitempty"`
	Error      *core.Error     `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	TokensUsed int             `json:"tokens_used,omitempty"`
	Votes      map[string]int  `json:"votes,omitempty"`
}

// CollaborationResult summarizes a finished crew run.
type CollaborationResult struct {
	CrewID      string          `json:"crew_id"`
	Version     int             `json:"version"`
	ExecutionID core.ID         `json:"execution_id"`
	Strategy    crew.Strategy   `json:"strategy"`
	Status      core.StatusType `json:"status"`
	Tasks       []*TaskRecord   `json:"tasks"`
	ManagerID   string          `json:"manager_id,omitempty"`
	FinalOutput any             `json:"final_output,omitempty"`
	Error       *core.Error     `json:"error,omitempty"`
	TokensUsed  int             `json:"tokens_used"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Duration    time.Duration   `json:"duration"`
}

// summarize derives the run status from its task records.
func (r *CollaborationResult) summarize() {
	completed, failed := 0, 0
	for _, t := range r.Tasks {
		r.TokensUsed += t.TokensUsed
		switch t.Status {
		case crew.TaskCompleted:
			completed++
		case crew.TaskFailed:
			failed++
		}
	}
	if r.Status == core.StatusCanceled {
		return
	}
	switch {
	case failed == 0:
		r.Status = core.StatusCompleted
	case completed == 0:
		r.Status = core.StatusFailed
		for _, t := range r.Tasks {
			if t.Error != nil {
				r.Error = t.Error
				break
			}
		}
	default:
		r.Status = core.StatusPartialSuccess
	}
}
