package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowrun/types"
)

const instrumentationName = "github.com/BaSui01/flowrun/workflow"

// DefaultStepBudgetFactor bounds a run to factor x nodeCount steps.
const DefaultStepBudgetFactor = 2

// MetricsRecorder receives per-run and per-node measurements.
type MetricsRecorder interface {
	RecordRun(status string, duration time.Duration, steps int)
	RecordNode(kind, status string, duration time.Duration)
}

// Executor runs a compiled graph. It holds no per-run state and is safe for
// concurrent use.
type Executor struct {
	graph        *Graph
	routes       *RoutingTable
	chat         ChatModel
	retriever    Retriever
	logger       *zap.Logger
	metrics      MetricsRecorder
	tracer       trace.Tracer
	budgetFactor int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithChatModel sets the collaborator used by ModelCall nodes.
func WithChatModel(m ChatModel) ExecutorOption {
	return func(e *Executor) { e.chat = m }
}

// WithRetriever sets the collaborator used by KnowledgeRetrieval nodes.
func WithRetriever(r Retriever) ExecutorOption {
	return func(e *Executor) { e.retriever = r }
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithStepBudgetFactor changes the step bound. Values below 1 are ignored.
func WithStepBudgetFactor(factor int) ExecutorOption {
	return func(e *Executor) {
		if factor >= 1 {
			e.budgetFactor = factor
		}
	}
}

// NewExecutor compiles g and checks that every collaborator its nodes need
// was supplied.
func NewExecutor(g *Graph, opts ...ExecutorOption) (*Executor, error) {
	routes, err := Compile(g)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		graph:        g,
		routes:       routes,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(instrumentationName),
		budgetFactor: DefaultStepBudgetFactor,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_executor"))

	for _, n := range g.Nodes() {
		switch {
		case n.Kind() == KindModelCall && e.chat == nil:
			return nil, types.NewError(types.ErrMissingCollaborator, "graph has model call nodes but no chat model was configured").WithNode(n.ID)
		case n.Kind() == KindKnowledgeRetrieval && e.retriever == nil:
			return nil, types.NewError(types.ErrMissingCollaborator, "graph has knowledge retrieval nodes but no retriever was configured").WithNode(n.ID)
		}
	}
	return e, nil
}

// Graph returns the executed graph.
func (e *Executor) Graph() *Graph { return e.graph }

// Routes returns the compiled routing table.
func (e *Executor) Routes() *RoutingTable { return e.routes }

// StepBudget returns the maximum number of steps a run may take.
func (e *Executor) StepBudget() int { return e.budgetFactor * e.graph.NodeCount() }

// RunResult is the outcome of a successful run.
type RunResult struct {
	RunID       string
	FinalOutput TypedValue
	// Output streams FinalOutput character by character. It can be read once.
	Output  *CharStream
	Steps   int
	History *ExecutionHistory
	Outputs map[string]map[string]TypedValue
}

// Stream runs the graph and returns only the character stream.
func (e *Executor) Stream(ctx context.Context, seed map[string]any) (*CharStream, error) {
	res, err := e.Run(ctx, seed)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// Run executes one run. seed is written into the Start node's outputs before
// the first step. A failed run returns no result.
func (e *Executor) Run(ctx context.Context, seed map[string]any) (*RunResult, error) {
	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	ctx, span := e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.Int("workflow.node_count", e.graph.NodeCount()),
		))
	defer span.End()

	history := NewExecutionHistory(runID)
	emit, hasEmitter := streamEmitterFromContext(ctx)
	log := e.logger.With(zap.String("run_id", runID))
	if name, ok := types.WorkflowName(ctx); ok {
		log = log.With(zap.String("workflow", name))
		span.SetAttributes(attribute.String("workflow.name", name))
	}
	startTime := time.Now()
	steps := 0

	fail := func(err error) (*RunResult, error) {
		history.Complete(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e.metrics != nil {
			e.metrics.RecordRun("error", time.Since(startTime), steps)
		}
		log.Error("workflow run failed",
			zap.Int("steps", steps),
			zap.String("error_code", string(types.GetErrorCode(err))),
			zap.Error(err),
		)
		return nil, err
	}

	log.Info("starting workflow run",
		zap.String("start_node", e.routes.Start),
		zap.Int("step_budget", e.StepBudget()),
	)
	if hasEmitter {
		emit(StreamEvent{Type: EventRunStart, RunID: runID, NodeID: e.routes.Start})
	}

	store := NewOutputStore()
	if err := e.seedStore(store, seed); err != nil {
		return fail(err)
	}

	budget := e.StepBudget()
	current := e.routes.Start
	var final *TypedValue

	for {
		if steps >= budget {
			return fail(types.Errorf(types.ErrRecursionLimit,
				"step budget of %d exceeded, graph routing loops", budget).WithNode(current))
		}
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("workflow run %s cancelled: %w", runID, err))
		}
		steps++

		node, ok := e.graph.Lookup(current)
		if !ok {
			return fail(structuralError(current, "routed to unknown node"))
		}

		result, err := e.executeNode(ctx, runID, steps, node, store, history)
		if err != nil {
			return fail(err)
		}
		if len(result.Outputs) > 0 {
			if err := store.Record(node.ID, result.Outputs); err != nil {
				return fail(err)
			}
		}

		if node.ID == e.routes.End {
			final = result.FinalOutput
			break
		}

		next, ok := e.routes.Successor(node.ID, result.RoutingTag)
		if !ok {
			return fail(structuralError(node.ID, "dead end: no successor for routing tag %q", result.RoutingTag))
		}
		current = next
	}

	if final == nil {
		final = &TypedValue{Value: "", Type: TypeString}
	}
	history.Complete(nil)
	if e.metrics != nil {
		e.metrics.RecordRun("success", time.Since(startTime), steps)
	}
	if hasEmitter {
		emit(StreamEvent{Type: EventRunComplete, RunID: runID, NodeID: e.routes.End, Data: final.String()})
	}
	log.Info("workflow run completed",
		zap.Int("steps", steps),
		zap.Duration("duration", time.Since(startTime)),
	)

	return &RunResult{
		RunID:       runID,
		FinalOutput: *final,
		Output:      newCharStream(final.String()),
		Steps:       steps,
		History:     history,
		Outputs:     store.Snapshot(),
	}, nil
}

// seedStore types seed values and records them under the Start node.
func (e *Executor) seedStore(store *OutputStore, seed map[string]any) error {
	start, _ := e.graph.Lookup(e.routes.Start)

	typed := make(map[string]TypedValue, len(seed))
	for name, raw := range seed {
		v, err := NewTypedValue(raw)
		if err != nil {
			return types.Errorf(types.ErrTypeMismatch, "seed input %q has unsupported type %T", name, raw).
				WithNode(start.ID).
				WithCause(err)
		}
		typed[name] = v
	}
	if err := checkSeed(start, typed); err != nil {
		return err
	}
	if len(typed) == 0 {
		return nil
	}
	return store.Record(start.ID, typed)
}

// executeNode runs one handler with tracing, logging, metrics and history.
func (e *Executor) executeNode(ctx context.Context, runID string, step int, node Node, store *OutputStore, history *ExecutionHistory) (NodeResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("workflow.node_id", node.ID),
			attribute.String("workflow.node_kind", string(node.Kind())),
			attribute.Int("workflow.step", step),
		))
	defer span.End()

	emit, hasEmitter := streamEmitterFromContext(ctx)
	if hasEmitter {
		emit(StreamEvent{Type: EventNodeStart, RunID: runID, NodeID: node.ID, NodeKind: node.Kind()})
	}

	rec := history.RecordNodeStart(step, node)
	startTime := time.Now()

	result, err := e.handleNode(ctx, node, store)

	duration := time.Since(startTime)
	history.RecordNodeEnd(rec, result, err)

	status := "success"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordNode(string(node.Kind()), status, duration)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("node execution failed",
			zap.String("run_id", runID),
			zap.String("node_id", node.ID),
			zap.String("node_kind", string(node.Kind())),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if hasEmitter {
			emit(StreamEvent{Type: EventNodeError, RunID: runID, NodeID: node.ID, NodeKind: node.Kind(), Error: err})
		}
		return NodeResult{}, err
	}

	if result.RoutingTag != "" {
		span.SetAttributes(attribute.String("workflow.routing_tag", result.RoutingTag))
	}
	e.logger.Debug("node executed",
		zap.String("run_id", runID),
		zap.String("node_id", node.ID),
		zap.String("node_kind", string(node.Kind())),
		zap.String("routing_tag", result.RoutingTag),
		zap.Duration("duration", duration),
	)
	if hasEmitter {
		emit(StreamEvent{Type: EventNodeComplete, RunID: runID, NodeID: node.ID, NodeKind: node.Kind(), Data: result.Outputs})
	}
	return result, nil
}

// RunBatch executes independent runs over the same graph concurrently. At
// most limit runs are in flight; limit <= 0 means no bound. The first
// failure cancels the remaining runs and is returned.
func (e *Executor) RunBatch(ctx context.Context, seeds []map[string]any, limit int) ([]*RunResult, error) {
	results := make([]*RunResult, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, seed := range seeds {
		g.Go(func() error {
			res, err := e.Run(gctx, seed)
			if err != nil {
				return fmt.Errorf("batch run %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
