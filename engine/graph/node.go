package graph

import (
	"fmt"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// NodeType tags the executor that handles a node.
type NodeType string

const (
	NodeTypeLLM         NodeType = "llm"
	NodeTypeTool        NodeType = "tool"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeIntegration NodeType = "integration"
	NodeTypeHuman       NodeType = "human"
	NodeTypeDecision    NodeType = "decision"
)

// KnownNodeTypes lists every tag accepted at registration.
var KnownNodeTypes = []NodeType{
	NodeTypeLLM,
	NodeTypeTool,
	NodeTypeCondition,
	NodeTypeIntegration,
	NodeTypeHuman,
	NodeTypeDecision,
}

func (t NodeType) String() string {
	return string(t)
}

// IsKnown reports whether t is one of the closed set of node tags.
func (t NodeType) IsKnown() bool {
	for _, known := range KnownNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Node is a single step of a workflow graph.
type Node struct {
	ID              string         `json:"id"                          yaml:"id"`
	Type            NodeType       `json:"type"                        yaml:"type"`
	Config          map[string]any `json:"config,omitempty"            yaml:"config,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"          yaml:"metadata,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	// Timeout accepts Go durations plus day/week units ("1d12h").
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ShouldContinueOnError honors both the field and a config-level
// continue_on_error flag.
func (n *Node) ShouldContinueOnError() bool {
	if n.ContinueOnError {
		return true
	}
	v, ok := n.Config["continue_on_error"].(bool)
	return ok && v
}

// TimeoutDuration returns the node-level timeout, zero when unset.
func (n *Node) TimeoutDuration() (time.Duration, error) {
	if n.Timeout == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(n.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q for node %s: %w", n.Timeout, n.ID, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q for node %s", n.Timeout, n.ID)
	}
	return d, nil
}

// OutputKey is the context key the node's output is written under.
func (n *Node) OutputKey() string {
	if key, ok := n.Config["output_key"].(string); ok && key != "" {
		return key
	}
	return n.ID
}

// Edge connects two nodes, optionally guarded by a condition expression.
type Edge struct {
	Source    string `json:"source"              yaml:"source"`
	Target    string `json:"target"              yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

func (e Edge) IsConditional() bool {
	return e.Condition != ""
}
