package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/compozy/conductor/engine/core"
	"github.com/compozy/conductor/engine/graph"
)

// -----------------------------------------------------------------------------
// StateID
// -----------------------------------------------------------------------------

type StateID struct {
	WorkflowID   string
	WorkflowExec core.ID
}

func StateIDFromString(s string) (*StateID, error) {
	idx := strings.LastIndex(s, "_")
	if idx <= 0 || idx == len(s)-1 {
		return nil, fmt.Errorf("invalid state ID: %s", s)
	}
	return &StateID{WorkflowID: s[:idx], WorkflowExec: core.ID(s[idx+1:])}, nil
}

func (e *StateID) String() string {
	return fmt.Sprintf("%s_%s", e.WorkflowID, e.WorkflowExec)
}

// -----------------------------------------------------------------------------
// NodeLog
// -----------------------------------------------------------------------------

// NodeLog records one node visit.
type NodeLog struct {
	NodeID     string          `json:"node_id"`
	NodeType   graph.NodeType  `json:"node_type"`
	Status     core.StepStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Output     any             `json:"output,omitempty"`
	Error      *core.Error     `json:"error,omitempty"`
	TokensUsed int             `json:"tokens_used,omitempty"`
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is the mutable record of a single execution. It is owned by the
// goroutine running that execution and never shared.
type State struct {
	StateID  StateID
	Context  map[string]any
	Path     []string
	Results  map[string]*NodeLog
	Errors   []*core.Error
	Warnings []string
	Current  string

	visited map[string]struct{}
	tokens  int
}

// NewState seeds a state with a deep copy of input.
func NewState(workflowID string, execID core.ID, input map[string]any) *State {
	return &State{
		StateID: StateID{WorkflowID: workflowID, WorkflowExec: execID},
		Context: core.CloneMap(input),
		Results: make(map[string]*NodeLog),
		visited: make(map[string]struct{}),
	}
}

// Visited reports whether nodeID already ran in this execution.
func (s *State) Visited(nodeID string) bool {
	_, ok := s.visited[nodeID]
	return ok
}

// Enter marks nodeID visited and current.
func (s *State) Enter(nodeID string) {
	s.visited[nodeID] = struct{}{}
	s.Path = append(s.Path, nodeID)
	s.Current = nodeID
}

// Record stores a node's log and, on success, its output under key.
func (s *State) Record(key string, log *NodeLog) {
	s.Results[log.NodeID] = log
	s.tokens += log.TokensUsed
	if log.Status == core.StepSuccess {
		s.Context[key] = log.Output
		return
	}
	if log.Error != nil {
		s.Errors = append(s.Errors, log.Error)
		s.Context[key] = map[string]any{"status": string(log.Status), "error": log.Error.Message}
	}
}

func (s *State) AddWarning(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

func (s *State) TokensUsed() int {
	return s.tokens
}

// Snapshot returns a deep copy of the context for external readers.
func (s *State) Snapshot() map[string]any {
	return core.CloneMap(s.Context)
}

// Logs returns node logs in path order.
func (s *State) Logs() []*NodeLog {
	out := make([]*NodeLog, 0, len(s.Path))
	for _, id := range s.Path {
		if l, ok := s.Results[id]; ok {
			out = append(out, l)
		}
	}
	return out
}
