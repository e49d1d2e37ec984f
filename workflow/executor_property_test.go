package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// buildForwardGraph builds start -> n_0 -> ... -> n_k -> end where kinds[i]
// picks ModelCall, KnowledgeRetrieval or Condition. Condition nodes compare
// a literal against itself or a different literal, and their false branch
// skips ahead to end.
func buildForwardGraph(kinds []int, outcome bool) (*Graph, error) {
	b := NewGraphBuilder().Start("start", OutputDecl{Name: "question", Type: TypeString})

	ids := make([]string, len(kinds))
	for i := range kinds {
		ids[i] = fmt.Sprintf("n_%d", i)
	}
	next := func(i int) string {
		if i+1 < len(ids) {
			return ids[i+1]
		}
		return "end"
	}

	right := "x"
	if !outcome {
		right = "y"
	}
	for i, k := range kinds {
		switch k % 3 {
		case 0:
			b.ModelCall(ids[i], ModelParams{}, Input("q", Ref("start", "question")))
			b.Edge(ids[i], next(i))
		case 1:
			b.KnowledgeRetrieval(ids[i], Ref("start", "question"))
			b.Edge(ids[i], next(i))
		default:
			b.Condition(ids[i], AnyOf(When(Literal("x"), OpEquals, Literal(right))))
			b.Branch(ids[i], BranchTrue, next(i))
			b.Branch(ids[i], BranchFalse, "end")
		}
	}

	first := "end"
	if len(ids) > 0 {
		first = ids[0]
	}
	return b.End("end", Ref("start", "question")).Edge("start", first).Build()
}

func TestProperty_RunTerminatesWithinBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("well-formed graphs visit each node at most once within 2 x nodeCount steps", prop.ForAll(
		func(kinds []int, outcome bool, question string) bool {
			g, err := buildForwardGraph(kinds, outcome)
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}
			exec, err := NewExecutor(g, WithChatModel(echoModel()), WithRetriever(staticRetriever("ctx")))
			if err != nil {
				t.Logf("compile failed: %v", err)
				return false
			}

			res, err := exec.Run(context.Background(), map[string]any{"question": question})
			if err != nil {
				t.Logf("run failed: %v", err)
				return false
			}
			if res.Steps > 2*g.NodeCount() {
				t.Logf("took %d steps for %d nodes", res.Steps, g.NodeCount())
				return false
			}

			visited := map[string]bool{}
			for _, id := range res.History.Path() {
				if visited[id] {
					t.Logf("node %s visited twice", id)
					return false
				}
				visited[id] = true
			}
			return visited["start"] && visited["end"] && res.Output.Collect() == question
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestProperty_CyclesHitRecursionLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("a routing cycle fails with RECURSION_LIMIT after exactly the budget", prop.ForAll(
		func(loopLen int) bool {
			always := AnyOf(When(Literal(1), OpEquals, Literal(1.0)))
			b := NewGraphBuilder().Start("start").End("end", nil)
			for i := 0; i < loopLen; i++ {
				id := fmt.Sprintf("c_%d", i)
				b.Condition(id, always)
				b.Branch(id, BranchTrue, fmt.Sprintf("c_%d", (i+1)%loopLen))
				b.Branch(id, BranchFalse, "end")
			}
			g, err := b.Edge("start", "c_0").Build()
			if err != nil {
				return false
			}

			metrics := newCountingMetrics()
			exec, err := NewExecutor(g, WithMetrics(metrics))
			if err != nil {
				return false
			}
			_, err = exec.Run(context.Background(), nil)
			return err != nil &&
				errors.Is(err, ErrRecursionLimit) &&
				metrics.steps == exec.StepBudget()
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
