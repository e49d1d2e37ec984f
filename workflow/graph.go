package workflow

import (
	"maps"
	"slices"
)

// NodeKind is the closed set of node kinds the executor understands.
type NodeKind string

const (
	KindStart              NodeKind = "start"
	KindEnd                NodeKind = "end"
	KindModelCall          NodeKind = "model_call"
	KindKnowledgeRetrieval NodeKind = "knowledge_retrieval"
	KindCondition          NodeKind = "condition"
)

// Branch tags emitted by Condition nodes.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// Well-known output names.
const (
	OutputModelText = "output"
	OutputContext   = "context"
)

// NodeConfig is the kind-specific payload of a Node. Only the config types in
// this package implement it.
type NodeConfig interface {
	Kind() NodeKind
	nodeConfig()
}

// OutputDecl declares one seed value the Start node exposes.
type OutputDecl struct {
	Name     string    `json:"name" yaml:"name"`
	Type     ValueType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
}

// InputParam is one named input slot of a node.
type InputParam struct {
	Name  string    `json:"name" yaml:"name"`
	Type  ValueType `json:"type,omitempty" yaml:"type,omitempty"`
	Value ValueRef  `json:"-" yaml:"-"`
}

// ModelParams are optional call options forwarded to the chat model. Zero
// values mean "use the collaborator's default".
type ModelParams struct {
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// StartConfig configures the entry node.
type StartConfig struct {
	Outputs []OutputDecl
}

// EndConfig configures the terminal node. A nil Input yields an empty final output.
type EndConfig struct {
	Input *InputParam
}

// ModelCallConfig configures a chat-completion node. Inputs are concatenated
// in order to form the prompt.
type ModelCallConfig struct {
	Inputs []InputParam
	Params ModelParams
}

// KnowledgeRetrievalConfig configures a retrieval node.
type KnowledgeRetrievalConfig struct {
	Query InputParam
}

// ConditionConfig configures a branching node.
type ConditionConfig struct {
	Groups []ConditionGroup
}

func (StartConfig) Kind() NodeKind              { return KindStart }
func (EndConfig) Kind() NodeKind                { return KindEnd }
func (ModelCallConfig) Kind() NodeKind          { return KindModelCall }
func (KnowledgeRetrievalConfig) Kind() NodeKind { return KindKnowledgeRetrieval }
func (ConditionConfig) Kind() NodeKind          { return KindCondition }

func (StartConfig) nodeConfig()              {}
func (EndConfig) nodeConfig()                {}
func (ModelCallConfig) nodeConfig()          {}
func (KnowledgeRetrievalConfig) nodeConfig() {}
func (ConditionConfig) nodeConfig()          {}

// Node is one graph vertex. DisplayMeta is carried for callers and never read
// by the executor.
type Node struct {
	ID          string
	Config      NodeConfig
	DisplayMeta map[string]any
}

// Kind returns the node's kind, derived from its config.
func (n Node) Kind() NodeKind {
	if n.Config == nil {
		return ""
	}
	return n.Config.Kind()
}

// refs lists every value reference in the node's config.
func (n Node) refs() []ValueRef {
	var out []ValueRef
	switch cfg := n.Config.(type) {
	case EndConfig:
		if cfg.Input != nil {
			out = append(out, cfg.Input.Value)
		}
	case ModelCallConfig:
		for _, in := range cfg.Inputs {
			out = append(out, in.Value)
		}
	case KnowledgeRetrievalConfig:
		out = append(out, cfg.Query.Value)
	case ConditionConfig:
		for _, g := range cfg.Groups {
			for _, c := range g.Comparisons {
				out = append(out, c.Left, c.Right)
			}
		}
	}
	return out
}

// Edge is a directed connection. A non-empty BranchTag restricts the edge to
// the matching routing decision of its Condition source.
type Edge struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	BranchTag string `json:"branch_tag,omitempty" yaml:"branch_tag,omitempty"`
}

// Conditional reports whether the edge carries a branch tag.
func (e Edge) Conditional() bool { return e.BranchTag != "" }

// Graph is an immutable, validated workflow graph.
type Graph struct {
	nodes    map[string]Node
	order    []string
	edges    []Edge
	outgoing map[string][]Edge
	versions map[string]string
	start    string
	end      string
}

// NewGraph validates nodes and edges and returns the graph. Any violation is
// a STRUCTURAL error.
func NewGraph(nodes []Node, edges []Edge, versions map[string]string) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		edges:    slices.Clone(edges),
		outgoing: make(map[string][]Edge),
		versions: maps.Clone(versions),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, structuralError("", "node with empty id")
		}
		if n.Config == nil {
			return nil, structuralError(n.ID, "node has no config")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, structuralError(n.ID, "duplicate node id")
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	start, err := g.FindUnique(KindStart)
	if err != nil {
		return nil, err
	}
	end, err := g.FindUnique(KindEnd)
	if err != nil {
		return nil, err
	}
	g.start, g.end = start.ID, end.ID

	for _, e := range g.edges {
		src, ok := g.nodes[e.Source]
		if !ok {
			return nil, structuralError(e.Source, "edge references non-existent source node")
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, structuralError(e.Source, "edge references non-existent target node %q", e.Target)
		}
		if e.Conditional() && src.Kind() != KindCondition {
			return nil, structuralError(e.Source, "branch-tagged edge from %s node", src.Kind())
		}
		if !e.Conditional() && src.Kind() == KindCondition {
			return nil, structuralError(e.Source, "condition node has an untagged edge to %q", e.Target)
		}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}

	for _, id := range g.order {
		if err := validateConfig(g.nodes[id]); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func validateConfig(n Node) error {
	for _, ref := range n.refs() {
		switch r := ref.(type) {
		case nil:
			return structuralError(n.ID, "input slot has no value")
		case LiteralRef:
			if r.Value.Type == "" {
				return structuralError(n.ID, "literal of unsupported type %T", r.Value.Value)
			}
		case OutputRef:
			if r.NodeID == "" || r.Output == "" {
				return structuralError(n.ID, "reference must name a node and an output")
			}
		}
	}
	if cfg, ok := n.Config.(ConditionConfig); ok {
		for _, grp := range cfg.Groups {
			for _, c := range grp.Comparisons {
				if !c.Operator.Valid() {
					return structuralError(n.ID, "unknown comparison operator %d", c.Operator)
				}
			}
		}
	}
	return nil
}

// Lookup returns the node with the given ID.
func (g *Graph) Lookup(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// OutgoingEdges returns the edges leaving id in insertion order.
func (g *Graph) OutgoingEdges(id string) []Edge {
	return slices.Clone(g.outgoing[id])
}

// FindUnique returns the only node of the given kind.
func (g *Graph) FindUnique(kind NodeKind) (Node, error) {
	var found []string
	for _, id := range g.order {
		if g.nodes[id].Kind() == kind {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 1:
		return g.nodes[found[0]], nil
	case 0:
		return Node{}, structuralError("", "graph has no %s node", kind)
	default:
		return Node{}, structuralError("", "graph has %d %s nodes %v, want exactly one", len(found), kind, found)
	}
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// Versions returns the pass-through version map.
func (g *Graph) Versions() map[string]string { return maps.Clone(g.versions) }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.order) }

// StartID returns the ID of the Start node.
func (g *Graph) StartID() string { return g.start }

// EndID returns the ID of the End node.
func (g *Graph) EndID() string { return g.end }
