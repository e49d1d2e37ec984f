package workflow

import (
	"go.uber.org/zap"
)

// GraphBuilder provides a fluent API for constructing workflow graphs.
type GraphBuilder struct {
	nodes    []Node
	edges    []Edge
	versions map[string]string
	logger   *zap.Logger
}

// NewGraphBuilder creates an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// WithVersions sets the pass-through version map.
func (b *GraphBuilder) WithVersions(versions map[string]string) *GraphBuilder {
	b.versions = versions
	return b
}

// AddNode adds a fully specified node.
func (b *GraphBuilder) AddNode(node Node) *GraphBuilder {
	b.nodes = append(b.nodes, node)
	return b
}

// Start adds the entry node.
func (b *GraphBuilder) Start(id string, outputs ...OutputDecl) *GraphBuilder {
	return b.AddNode(Node{ID: id, Config: StartConfig{Outputs: outputs}})
}

// End adds the terminal node whose final output is ref.
func (b *GraphBuilder) End(id string, ref ValueRef) *GraphBuilder {
	cfg := EndConfig{}
	if ref != nil {
		cfg.Input = &InputParam{Name: "output", Value: ref}
	}
	return b.AddNode(Node{ID: id, Config: cfg})
}

// ModelCall adds a chat-completion node.
func (b *GraphBuilder) ModelCall(id string, params ModelParams, inputs ...InputParam) *GraphBuilder {
	return b.AddNode(Node{ID: id, Config: ModelCallConfig{Inputs: inputs, Params: params}})
}

// KnowledgeRetrieval adds a retrieval node querying with ref.
func (b *GraphBuilder) KnowledgeRetrieval(id string, query ValueRef) *GraphBuilder {
	return b.AddNode(Node{ID: id, Config: KnowledgeRetrievalConfig{
		Query: InputParam{Name: "query", Value: query},
	}})
}

// Condition adds a branching node.
func (b *GraphBuilder) Condition(id string, groups ...ConditionGroup) *GraphBuilder {
	return b.AddNode(Node{ID: id, Config: ConditionConfig{Groups: groups}})
}

// Edge adds an unconditional edge.
func (b *GraphBuilder) Edge(from, to string) *GraphBuilder {
	b.edges = append(b.edges, Edge{Source: from, Target: to})
	return b
}

// Branch adds an edge taken when from routes with tag.
func (b *GraphBuilder) Branch(from, tag, to string) *GraphBuilder {
	b.edges = append(b.edges, Edge{Source: from, Target: to, BranchTag: tag})
	return b
}

// Build validates and returns the graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	g, err := NewGraph(b.nodes, b.edges, b.versions)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("workflow graph built",
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", len(b.edges)),
		zap.String("start", g.StartID()),
		zap.String("end", g.EndID()),
	)
	return g, nil
}

// Input builds a named input slot.
func Input(name string, ref ValueRef) InputParam {
	return InputParam{Name: name, Value: ref}
}

// When builds a comparison.
func When(left ValueRef, op Operator, right ValueRef) Comparison {
	return Comparison{Left: left, Operator: op, Right: right}
}

// AnyOf builds a condition group satisfied by any of its comparisons.
func AnyOf(comparisons ...Comparison) ConditionGroup {
	return ConditionGroup{Comparisons: comparisons, Logic: LogicOr}
}
