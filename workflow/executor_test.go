package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/types"
)

// ---------------------------------------------------------------------------
// Collaborator stubs
// ---------------------------------------------------------------------------

func echoModel() ChatModel {
	return ChatModelFunc(func(_ context.Context, req ModelRequest) (string, error) {
		return req.Prompt, nil
	})
}

func staticRetriever(text string) Retriever {
	return RetrieverFunc(func(context.Context, string) (string, error) {
		return text, nil
	})
}

type recordingModel struct {
	mu       sync.Mutex
	requests []ModelRequest
	reply    func(prompt string) string
}

func (m *recordingModel) Invoke(_ context.Context, req ModelRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.reply != nil {
		return m.reply(req.Prompt), nil
	}
	return req.Prompt, nil
}

type countingMetrics struct {
	mu    sync.Mutex
	runs  map[string]int
	nodes map[string]int
	steps int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{runs: map[string]int{}, nodes: map[string]int{}}
}

func (m *countingMetrics) RecordRun(status string, _ time.Duration, steps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[status]++
	m.steps += steps
}

func (m *countingMetrics) RecordNode(kind, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[kind+"/"+status]++
}

// ---------------------------------------------------------------------------
// Graph fixtures
// ---------------------------------------------------------------------------

// echoGraph is start -> llm(question) -> end(llm.output).
func echoGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().
		Start("start", OutputDecl{Name: "question", Type: TypeString, Required: true}).
		ModelCall("llm", ModelParams{}, Input("question", Ref("start", "question"))).
		End("end", Ref("llm", "output")).
		Edge("start", "llm").
		Edge("llm", "end").
		Build()
	require.NoError(t, err)
	return g
}

// ragGraph routes long questions through retrieval:
// start -> cond; true -> kb -> llm -> end; false -> llm.
func ragGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().
		Start("start", OutputDecl{Name: "question", Type: TypeString}).
		Condition("cond", AnyOf(When(Ref("start", "question"), OpLengthGreaterThan, Literal("5")))).
		KnowledgeRetrieval("kb", Ref("start", "question")).
		ModelCall("llm", ModelParams{Model: "qwen-plus", MaxTokens: 64},
			Input("question", Ref("start", "question")),
		).
		End("end", Ref("llm", "output")).
		Edge("start", "cond").
		Branch("cond", BranchTrue, "kb").
		Branch("cond", BranchFalse, "llm").
		Edge("kb", "llm").
		Edge("llm", "end").
		Build()
	require.NoError(t, err)
	return g
}

// loopGraph has two always-true conditions that route to each other.
func loopGraph(t *testing.T) *Graph {
	t.Helper()
	always := AnyOf(When(Literal("x"), OpEquals, Literal("x")))
	g, err := NewGraphBuilder().
		Start("start").
		Condition("c1", always).
		Condition("c2", always).
		End("end", nil).
		Edge("start", "c1").
		Branch("c1", BranchTrue, "c2").
		Branch("c1", BranchFalse, "end").
		Branch("c2", BranchTrue, "c1").
		Branch("c2", BranchFalse, "end").
		Build()
	require.NoError(t, err)
	return g
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestExecutor_EchoRoundTrip(t *testing.T) {
	exec, err := NewExecutor(echoGraph(t), WithChatModel(echoModel()), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	stream, err := exec.Stream(context.Background(), map[string]any{"question": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", stream.Collect())
}

func TestExecutor_LiteralPrompt(t *testing.T) {
	model := &recordingModel{}
	g, err := NewGraphBuilder().
		Start("start").
		ModelCall("llm", ModelParams{Temperature: ptr(0.2)},
			Input("prefix", Literal("answer=")),
			Input("n", Literal(42)),
			Input("ok", Literal(true)),
		).
		End("end", Ref("llm", "output")).
		Edge("start", "llm").
		Edge("llm", "end").
		Build()
	require.NoError(t, err)

	exec, err := NewExecutor(g, WithChatModel(model))
	require.NoError(t, err)

	res, err := exec.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "answer=42true", res.FinalOutput.Value)
	require.Len(t, model.requests, 1)
	assert.Equal(t, 0.2, *model.requests[0].Params.Temperature)
	assert.Equal(t, 3, res.Steps)
}

func TestExecutor_ConditionRouting(t *testing.T) {
	tests := []struct {
		question string
		wantPath []string
		wantOut  string
	}{
		{question: "what is rag?", wantPath: []string{"start", "cond", "kb", "llm", "end"}, wantOut: "what is rag?"},
		{question: "hi", wantPath: []string{"start", "cond", "llm", "end"}, wantOut: "hi"},
	}

	var queries []string
	retriever := RetrieverFunc(func(_ context.Context, q string) (string, error) {
		queries = append(queries, q)
		return "ctx:" + q, nil
	})
	exec, err := NewExecutor(ragGraph(t), WithChatModel(echoModel()), WithRetriever(retriever))
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			res, err := exec.Run(context.Background(), map[string]any{"question": tt.question})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, res.History.Path())
			assert.Equal(t, tt.wantOut, res.Output.Collect())
			assert.Equal(t, ExecutionStatusCompleted, res.History.Status)

			cond := res.History.GetNodeByID("cond")
			require.NotNil(t, cond)
			assert.Equal(t, KindCondition, cond.NodeKind)
			if len(tt.wantPath) == 5 {
				assert.Equal(t, BranchTrue, cond.RoutingTag)
				assert.Equal(t, "ctx:"+tt.question, res.Outputs["kb"][OutputContext].Value)
			} else {
				assert.Equal(t, BranchFalse, cond.RoutingTag)
				assert.NotContains(t, res.Outputs, "kb")
			}
		})
	}
	assert.Equal(t, []string{"what is rag?"}, queries)
}

func TestExecutor_UnresolvedReference(t *testing.T) {
	g, err := NewGraphBuilder().
		Start("start").
		ModelCall("llm", ModelParams{}, Input("q", Literal("hi"))).
		End("end", Ref("llm", "never_produced")).
		Edge("start", "llm").
		Edge("llm", "end").
		Build()
	require.NoError(t, err)

	exec, err := NewExecutor(g, WithChatModel(echoModel()))
	require.NoError(t, err)

	res, err := exec.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "end", e.NodeID)
}

func TestExecutor_ExternalServiceError(t *testing.T) {
	cause := types.NewError(types.ErrInternalError, "upstream 503").WithRetryable(true)
	failing := ChatModelFunc(func(context.Context, ModelRequest) (string, error) {
		return "", cause
	})

	exec, err := NewExecutor(echoGraph(t), WithChatModel(failing))
	require.NoError(t, err)

	stream, err := exec.Stream(context.Background(), map[string]any{"question": "hi"})
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, ErrExternalService)
	assert.ErrorIs(t, err, cause)
	assert.True(t, types.IsRetryable(err))

	e, _ := types.AsError(err)
	assert.Equal(t, "llm", e.NodeID)
}

func TestExecutor_RetrieverFailure(t *testing.T) {
	failing := RetrieverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("index offline")
	})
	exec, err := NewExecutor(ragGraph(t), WithChatModel(echoModel()), WithRetriever(failing))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), map[string]any{"question": "a long question"})
	assert.ErrorIs(t, err, ErrExternalService)
	assert.False(t, types.IsRetryable(err))
}

func TestExecutor_RecursionLimit(t *testing.T) {
	metrics := newCountingMetrics()
	exec, err := NewExecutor(loopGraph(t), WithMetrics(metrics))
	require.NoError(t, err)
	assert.Equal(t, 8, exec.StepBudget())

	_, err = exec.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrRecursionLimit)
	assert.Equal(t, 1, metrics.runs["error"])
	assert.Equal(t, 8, metrics.steps)
	assert.Equal(t, 7, metrics.nodes["condition/success"])
}

func TestExecutor_StepBudgetFactor(t *testing.T) {
	exec, err := NewExecutor(loopGraph(t), WithStepBudgetFactor(3))
	require.NoError(t, err)
	assert.Equal(t, 12, exec.StepBudget())

	exec, err = NewExecutor(loopGraph(t), WithStepBudgetFactor(0))
	require.NoError(t, err)
	assert.Equal(t, 8, exec.StepBudget())
}

func TestExecutor_DuplicateOutput(t *testing.T) {
	always := AnyOf(When(Literal("x"), OpEquals, Literal("x")))
	g, err := NewGraphBuilder().
		Start("start").
		Condition("cond", always).
		ModelCall("llm", ModelParams{}, Input("q", Literal("again"))).
		End("end", nil).
		Edge("start", "cond").
		Branch("cond", BranchTrue, "llm").
		Branch("cond", BranchFalse, "end").
		Edge("llm", "cond").
		Build()
	require.NoError(t, err)

	model := &recordingModel{}
	exec, err := NewExecutor(g, WithChatModel(model))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDuplicateOutput)
	e, _ := types.AsError(err)
	assert.Equal(t, "llm", e.NodeID)
	assert.Len(t, model.requests, 2)
}

func TestExecutor_EndWithoutInput(t *testing.T) {
	g, err := NewGraphBuilder().Start("start").End("end", nil).Edge("start", "end").Build()
	require.NoError(t, err)
	exec, err := NewExecutor(g)
	require.NoError(t, err)

	res, err := exec.Run(context.Background(), map[string]any{"question": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "", res.Output.Collect())
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, "ignored", res.Outputs["start"]["question"].Value)
}

func TestExecutor_SeedValidation(t *testing.T) {
	g, err := NewGraphBuilder().
		Start("start",
			OutputDecl{Name: "question", Type: TypeString, Required: true},
			OutputDecl{Name: "limit", Type: TypeFloat},
		).
		End("end", Ref("start", "question")).
		Edge("start", "end").
		Build()
	require.NoError(t, err)
	exec, err := NewExecutor(g)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	_, err = exec.Run(context.Background(), map[string]any{"question": 12})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = exec.Run(context.Background(), map[string]any{"question": "q", "extra": struct{}{}})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	res, err := exec.Run(context.Background(), map[string]any{"question": "q", "limit": 3})
	require.NoError(t, err, "integers satisfy float declarations")
	assert.Equal(t, "q", res.FinalOutput.Value)
}

func TestExecutor_MissingCollaborators(t *testing.T) {
	_, err := NewExecutor(echoGraph(t))
	assert.ErrorIs(t, err, ErrMissingCollaborator)
	assert.Equal(t, types.ErrMissingCollaborator, types.GetErrorCode(err))
	assert.NotErrorIs(t, err, &types.Error{Code: types.ErrInvalidRequest})

	_, err = NewExecutor(ragGraph(t), WithChatModel(echoModel()))
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	invalid := types.NewError(types.ErrInvalidRequest, "request body is empty")
	assert.NotErrorIs(t, invalid, ErrMissingCollaborator)
}

func TestExecutor_CancelledContext(t *testing.T) {
	exec, err := NewExecutor(echoGraph(t), WithChatModel(echoModel()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = exec.Run(ctx, map[string]any{"question": "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_StreamEvents(t *testing.T) {
	exec, err := NewExecutor(echoGraph(t), WithChatModel(echoModel()))
	require.NoError(t, err)

	var events []StreamEvent
	ctx := WithStreamEmitter(context.Background(), func(ev StreamEvent) {
		events = append(events, ev)
	})

	res, err := exec.Run(ctx, map[string]any{"question": "hi"})
	require.NoError(t, err)

	var kinds []StreamEventType
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
		assert.Equal(t, res.RunID, ev.RunID)
	}
	assert.Equal(t, []StreamEventType{
		EventRunStart,
		EventNodeStart, EventNodeComplete,
		EventNodeStart, EventNodeComplete,
		EventNodeStart, EventNodeComplete,
		EventRunComplete,
	}, kinds)
	assert.Equal(t, "hi", events[len(events)-1].Data)
}

func TestExecutor_StreamEventsOnFailure(t *testing.T) {
	failing := ChatModelFunc(func(context.Context, ModelRequest) (string, error) {
		return "", errors.New("boom")
	})
	exec, err := NewExecutor(echoGraph(t), WithChatModel(failing))
	require.NoError(t, err)

	var last StreamEvent
	ctx := WithStreamEmitter(context.Background(), func(ev StreamEvent) { last = ev })
	_, err = exec.Run(ctx, map[string]any{"question": "hi"})
	require.Error(t, err)
	assert.Equal(t, EventNodeError, last.Type)
	assert.Equal(t, "llm", last.NodeID)
	assert.ErrorIs(t, last.Error, ErrExternalService)
}

func TestWithStreamEmitter_NilIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithStreamEmitter(ctx, nil))
	_, ok := streamEmitterFromContext(ctx)
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestExecutor_ConcurrentRunsAreIsolated(t *testing.T) {
	exec, err := NewExecutor(echoGraph(t), WithChatModel(echoModel()))
	require.NoError(t, err)

	const runs = 32
	var wg sync.WaitGroup
	results := make([]*RunResult, runs)
	errs := make([]error, runs)
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = exec.Run(context.Background(), map[string]any{"question": fmt.Sprintf("q-%d", i)})
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range runs {
		require.NoError(t, errs[i])
		want := fmt.Sprintf("q-%d", i)
		assert.Equal(t, want, results[i].Output.Collect())
		assert.Equal(t, want, results[i].Outputs["start"]["question"].Value)
		assert.Equal(t, want, results[i].Outputs["llm"][OutputModelText].Value)
		assert.False(t, seen[results[i].RunID], "run IDs must be unique")
		seen[results[i].RunID] = true
	}
}

func TestExecutor_RunBatch(t *testing.T) {
	exec, err := NewExecutor(echoGraph(t), WithChatModel(echoModel()))
	require.NoError(t, err)

	seeds := []map[string]any{{"question": "a"}, {"question": "b"}, {"question": "c"}}
	results, err := exec.RunBatch(context.Background(), seeds, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, results[i].FinalOutput.Value)
	}

	_, err = exec.RunBatch(context.Background(), []map[string]any{{"question": "a"}, {}}, 0)
	assert.ErrorIs(t, err, ErrUnresolvedReference)
	assert.Contains(t, err.Error(), "batch run 1")
}

func ptr[T any](v T) *T { return &v }
