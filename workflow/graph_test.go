package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/types"
)

// newQAGraph builds start -> kb -> llm -> end.
func newQAGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().
		WithLogger(zap.NewNop()).
		Start("start", OutputDecl{Name: "question", Type: TypeString, Required: true}).
		KnowledgeRetrieval("kb", Ref("start", "question")).
		ModelCall("llm", ModelParams{Model: "qwen-plus"},
			Input("context", Ref("kb", "context")),
			Input("question", Ref("start", "question")),
		).
		End("end", Ref("llm", "output")).
		Edge("start", "kb").
		Edge("kb", "llm").
		Edge("llm", "end").
		WithVersions(map[string]string{"loop": "v2"}).
		Build()
	require.NoError(t, err)
	return g
}

func TestGraph_Lookups(t *testing.T) {
	g := newQAGraph(t)

	node, ok := g.Lookup("llm")
	require.True(t, ok)
	assert.Equal(t, KindModelCall, node.Kind())

	_, ok = g.Lookup("missing")
	assert.False(t, ok)

	start, err := g.FindUnique(KindStart)
	require.NoError(t, err)
	assert.Equal(t, "start", start.ID)
	assert.Equal(t, "start", g.StartID())
	assert.Equal(t, "end", g.EndID())

	_, err = g.FindUnique(KindCondition)
	assert.ErrorIs(t, err, ErrStructural)

	assert.Equal(t, []Edge{{Source: "kb", Target: "llm"}}, g.OutgoingEdges("kb"))
	assert.Empty(t, g.OutgoingEdges("end"))
	assert.Equal(t, 4, g.NodeCount())
	assert.Equal(t, map[string]string{"loop": "v2"}, g.Versions())

	var ids []string
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"start", "kb", "llm", "end"}, ids)
}

func TestGraph_AccessorsReturnCopies(t *testing.T) {
	g := newQAGraph(t)

	edges := g.OutgoingEdges("start")
	edges[0].Target = "tampered"
	assert.Equal(t, "kb", g.OutgoingEdges("start")[0].Target)

	versions := g.Versions()
	versions["loop"] = "tampered"
	assert.Equal(t, "v2", g.Versions()["loop"])
}

func TestNewGraph_StructuralErrors(t *testing.T) {
	start := Node{ID: "start", Config: StartConfig{}}
	end := Node{ID: "end", Config: EndConfig{}}
	llm := Node{ID: "llm", Config: ModelCallConfig{Inputs: []InputParam{Input("q", Literal("hi"))}}}
	cond := Node{ID: "cond", Config: ConditionConfig{}}

	tests := []struct {
		name   string
		nodes  []Node
		edges  []Edge
		nodeID string
	}{
		{
			name:  "missing start",
			nodes: []Node{end},
		},
		{
			name:  "missing end",
			nodes: []Node{start},
		},
		{
			name:  "two start nodes",
			nodes: []Node{start, {ID: "start2", Config: StartConfig{}}, end},
		},
		{
			name:   "duplicate id",
			nodes:  []Node{start, end, {ID: "end", Config: EndConfig{}}},
			nodeID: "end",
		},
		{
			name:   "node without config",
			nodes:  []Node{start, end, {ID: "bare"}},
			nodeID: "bare",
		},
		{
			name:   "dangling target",
			nodes:  []Node{start, end},
			edges:  []Edge{{Source: "start", Target: "nowhere"}},
			nodeID: "start",
		},
		{
			name:   "dangling source",
			nodes:  []Node{start, end},
			edges:  []Edge{{Source: "ghost", Target: "end"}},
			nodeID: "ghost",
		},
		{
			name:   "branch tag on non-condition node",
			nodes:  []Node{start, llm, end},
			edges:  []Edge{{Source: "llm", Target: "end", BranchTag: BranchTrue}},
			nodeID: "llm",
		},
		{
			name:   "untagged edge from condition node",
			nodes:  []Node{start, cond, end},
			edges:  []Edge{{Source: "cond", Target: "end"}},
			nodeID: "cond",
		},
		{
			name: "unknown operator",
			nodes: []Node{start, end, {ID: "c", Config: ConditionConfig{Groups: []ConditionGroup{
				AnyOf(When(Literal("a"), Operator(9), Literal("b"))),
			}}}},
			nodeID: "c",
		},
		{
			name:   "unsupported literal",
			nodes:  []Node{start, end, {ID: "m", Config: ModelCallConfig{Inputs: []InputParam{Input("x", Literal(struct{}{}))}}}},
			nodeID: "m",
		},
		{
			name:   "reference without output name",
			nodes:  []Node{start, {ID: "end", Config: EndConfig{Input: &InputParam{Value: Ref("start", "")}}}},
			nodeID: "end",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGraph(tt.nodes, tt.edges, nil)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, ErrStructural)
			if tt.nodeID != "" {
				e, ok := types.AsError(err)
				require.True(t, ok)
				assert.Equal(t, tt.nodeID, e.NodeID)
			}
		})
	}
}

func TestNode_KindWithoutConfig(t *testing.T) {
	assert.Equal(t, NodeKind(""), Node{ID: "x"}.Kind())
}
