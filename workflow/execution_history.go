package workflow

import (
	"sync"
	"time"
)

// ExecutionStatus represents the status of a run or a node within it
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates the execution is in progress
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates the execution completed successfully
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates the execution failed
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// NodeExecution records one step of the run loop
type NodeExecution struct {
	Step       int                   `json:"step"`
	NodeID     string                `json:"node_id"`
	NodeKind   NodeKind              `json:"node_kind"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time"`
	Duration   time.Duration         `json:"duration"`
	Status     ExecutionStatus       `json:"status"`
	Outputs    map[string]TypedValue `json:"outputs,omitempty"`
	RoutingTag string                `json:"routing_tag,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// ExecutionHistory records the path a single run took through the graph.
// It lives only as long as the caller keeps the RunResult.
type ExecutionHistory struct {
	RunID     string           `json:"run_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Status    ExecutionStatus  `json:"status"`
	Nodes     []*NodeExecution `json:"nodes"`
	Error     string           `json:"error,omitempty"`
	mu        sync.RWMutex
}

// NewExecutionHistory creates a new execution history
func NewExecutionHistory(runID string) *ExecutionHistory {
	return &ExecutionHistory{
		RunID:     runID,
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
		Nodes:     make([]*NodeExecution, 0),
	}
}

// RecordNodeStart records the start of a node execution
func (h *ExecutionHistory) RecordNodeStart(step int, node Node) *NodeExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := &NodeExecution{
		Step:      step,
		NodeID:    node.ID,
		NodeKind:  node.Kind(),
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
	}
	h.Nodes = append(h.Nodes, rec)
	return rec
}

// RecordNodeEnd records the end of a node execution
func (h *ExecutionHistory) RecordNodeEnd(rec *NodeExecution, result NodeResult, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime)
	rec.Outputs = result.Outputs
	rec.RoutingTag = result.RoutingTag

	if err != nil {
		rec.Status = ExecutionStatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = ExecutionStatusCompleted
	}
}

// Complete marks the execution as finished
func (h *ExecutionHistory) Complete(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)

	if err != nil {
		h.Status = ExecutionStatusFailed
		h.Error = err.Error()
	} else {
		h.Status = ExecutionStatusCompleted
	}
}

// GetNodes returns a copy of the node executions
func (h *ExecutionHistory) GetNodes() []*NodeExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]*NodeExecution, len(h.Nodes))
	copy(nodes, h.Nodes)
	return nodes
}

// GetNodeByID returns the execution record for a specific node
func (h *ExecutionHistory) GetNodeByID(nodeID string) *NodeExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, node := range h.Nodes {
		if node.NodeID == nodeID {
			return node
		}
	}
	return nil
}

// Path returns the visited node IDs in order
func (h *ExecutionHistory) Path() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	path := make([]string, len(h.Nodes))
	for i, n := range h.Nodes {
		path[i] = n.NodeID
	}
	return path
}
