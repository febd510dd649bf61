package workflow

import (
	"context"
	"testing"

	"github.com/compozy/conductor/engine/graph"
	"github.com/compozy/conductor/engine/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routedDefinition() *graph.Definition {
	return &graph.Definition{
		ID: "routed",
		Nodes: []graph.Node{
			tool("start", map[string]any{"value": 10}),
			tool("skip", nil),
			tool("gate", nil),
			tool("x", nil),
			tool("y", nil),
		},
		Edges: []graph.Edge{
			{Source: "start", Target: "skip", Condition: "start.value > 100"},
			{Source: "start", Target: "gate", Condition: "start.value == 10"},
			{Source: "gate", Target: "x"},
			{Source: "gate", Target: "y"},
		},
	}
}

func TestEngine_DecodedGraphRouting(t *testing.T) {
	lastCandidate := &oracle.Func{DecideFn: func(_ context.Context, req *oracle.DecisionRequest) (*oracle.Decision, error) {
		return &oracle.Decision{NextNodeID: req.Candidates[len(req.Candidates)-1].NodeID}, nil
	}}
	want := []string{"start", "gate", "y"}

	t.Run("Should route a JSON-decoded graph like the original", func(t *testing.T) {
		e := newTestEngine(t, lastCandidate)
		g, err := graph.New(routedDefinition())
		require.NoError(t, err)
		data, err := g.MarshalJSON()
		require.NoError(t, err)
		decoded, err := graph.DecodeJSON(data)
		require.NoError(t, err)

		orig := e.ExecuteGraph(t.Context(), g, nil)
		again := e.ExecuteGraph(t.Context(), decoded, nil)
		assert.Equal(t, want, orig.Path)
		assert.Equal(t, orig.Path, again.Path)
		assert.Equal(t, orig.Status, again.Status)
	})

	t.Run("Should route a YAML-decoded graph like the original", func(t *testing.T) {
		e := newTestEngine(t, lastCandidate)
		g, err := graph.New(routedDefinition())
		require.NoError(t, err)
		data, err := graph.EncodeYAML(g)
		require.NoError(t, err)
		decoded, err := graph.DecodeYAML(data)
		require.NoError(t, err)

		orig := e.ExecuteGraph(t.Context(), g, nil)
		again := e.ExecuteGraph(t.Context(), decoded, nil)
		assert.Equal(t, want, orig.Path)
		assert.Equal(t, orig.Path, again.Path)
		assert.Equal(t, orig.Status, again.Status)
	})
}
