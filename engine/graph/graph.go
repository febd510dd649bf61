package graph

import (
	"github.com/compozy/conductor/engine/core"
)

// Definition is the serializable form of a workflow graph.
type Definition struct {
	ID      string `json:"id"                yaml:"id"`
	Name    string `json:"name,omitempty"    yaml:"name,omitempty"`
	Version int    `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes   []Node `json:"nodes"             yaml:"nodes"`
	Edges   []Edge `json:"edges"             yaml:"edges"`
}

// Graph is an immutable, validated workflow graph. Nodes live in an arena
// indexed by id; adjacency is derived once at construction.
type Graph struct {
	id      string
	name    string
	version int

	nodes    []*Node
	index    map[string]int
	edges    []Edge
	outgoing map[string][]Edge
	incoming map[string][]Edge
}

// New validates the definition and builds the graph. Errors carry the
// GRAPH_INVALID code.
func New(def *Definition) (*Graph, error) {
	if def == nil {
		return nil, core.ValidationError(core.ErrCodeGraphInvalid, "graph definition is required")
	}
	if len(def.Nodes) == 0 {
		return nil, core.ValidationError(core.ErrCodeGraphInvalid, "graph %q has no nodes", def.ID)
	}
	g := &Graph{
		id:       def.ID,
		name:     def.Name,
		version:  def.Version,
		nodes:    make([]*Node, 0, len(def.Nodes)),
		index:    make(map[string]int, len(def.Nodes)),
		edges:    make([]Edge, 0, len(def.Edges)),
		outgoing: make(map[string][]Edge, len(def.Nodes)),
		incoming: make(map[string][]Edge, len(def.Nodes)),
	}
	for i := range def.Nodes {
		n := def.Nodes[i]
		if n.ID == "" {
			return nil, core.ValidationError(core.ErrCodeGraphInvalid, "node at position %d has empty id", i)
		}
		if _, dup := g.index[n.ID]; dup {
			return nil, core.ValidationError(core.ErrCodeGraphInvalid, "duplicate node id %q", n.ID)
		}
		if !n.Type.IsKnown() {
			return nil, core.ValidationError(core.ErrCodeGraphInvalid, "node %q has unknown type %q", n.ID, n.Type)
		}
		if _, err := n.TimeoutDuration(); err != nil {
			return nil, core.NewError(err, core.ErrCodeGraphInvalid, map[string]any{"node_id": n.ID})
		}
		n.Config = core.CloneMap(n.Config)
		n.Metadata = core.CloneMap(n.Metadata)
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, &n)
	}
	for i, e := range def.Edges {
		if _, ok := g.index[e.Source]; !ok {
			return nil, core.ValidationError(core.ErrCodeGraphInvalid,
				"edge %d references unknown source node %q", i, e.Source)
		}
		if _, ok := g.index[e.Target]; !ok {
			return nil, core.ValidationError(core.ErrCodeGraphInvalid,
				"edge %d references unknown target node %q", i, e.Target)
		}
		g.edges = append(g.edges, e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}
	return g, nil
}

func (g *Graph) ID() string   { return g.id }
func (g *Graph) Name() string { return g.name }
func (g *Graph) Version() int { return g.version }
func (g *Graph) Len() int     { return len(g.nodes) }

// WithVersion returns a shallow copy stamped with id and version. Nodes are
// shared since the graph is never mutated after construction.
func (g *Graph) WithVersion(id string, version int) *Graph {
	cp := *g
	cp.id = id
	cp.version = version
	return &cp
}

// Node looks a node up by id.
func (g *Graph) Node(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns nodes in registration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns edges in registration order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Outgoing returns the edges leaving id in registration order.
func (g *Graph) Outgoing(id string) []Edge {
	return g.outgoing[id]
}

// Incoming returns the edges entering id in registration order.
func (g *Graph) Incoming(id string) []Edge {
	return g.incoming[id]
}

// StartNode is the first registered node with no incoming edges, or the
// first registered node when every node has one.
func (g *Graph) StartNode() *Node {
	for _, n := range g.nodes {
		if len(g.incoming[n.ID]) == 0 {
			return n
		}
	}
	return g.nodes[0]
}

// Definition returns a deep copy of the graph in serializable form.
func (g *Graph) Definition() *Definition {
	def := &Definition{
		ID:      g.id,
		Name:    g.name,
		Version: g.version,
		Nodes:   make([]Node, len(g.nodes)),
		Edges:   g.Edges(),
	}
	for i, n := range g.nodes {
		cp := *n
		cp.Config = core.CloneMap(n.Config)
		cp.Metadata = core.CloneMap(n.Metadata)
		def.Nodes[i] = cp
	}
	return def
}
