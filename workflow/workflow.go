package workflow

import "context"

// =============================================================================
// Run Streaming
// =============================================================================

// StreamEventType defines the type of run stream event.
type StreamEventType string

const (
	// EventRunStart is emitted once before the Start node executes.
	EventRunStart StreamEventType = "run_start"
	// EventNodeStart is emitted before a node begins execution.
	EventNodeStart StreamEventType = "node_start"
	// EventNodeComplete is emitted after a node finishes successfully.
	EventNodeComplete StreamEventType = "node_complete"
	// EventNodeError is emitted when a node fails.
	EventNodeError StreamEventType = "node_error"
	// EventRunComplete is emitted after the End node produced the final output.
	EventRunComplete StreamEventType = "run_complete"
)

// StreamEvent carries information about a run execution event.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	RunID    string          `json:"run_id"`
	NodeID   string          `json:"node_id,omitempty"`
	NodeKind NodeKind        `json:"node_kind,omitempty"`
	Data     any             `json:"data,omitempty"`
	Error    error           `json:"-"`
}

// StreamEmitter is a callback that receives run stream events. It is called
// synchronously from the run loop.
type StreamEmitter func(StreamEvent)

// streamEmitterKey is the context key for StreamEmitter.
type streamEmitterKey struct{}

// WithStreamEmitter stores a StreamEmitter in the context.
func WithStreamEmitter(ctx context.Context, emitter StreamEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, streamEmitterKey{}, emitter)
}

// streamEmitterFromContext retrieves the StreamEmitter from context.
func streamEmitterFromContext(ctx context.Context) (StreamEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	v := ctx.Value(streamEmitterKey{})
	if v == nil {
		return nil, false
	}
	emit, ok := v.(StreamEmitter)
	return emit, ok && emit != nil
}
