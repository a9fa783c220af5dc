package types

import (
	"errors"
	"time"
)

// ErrUnknownStepType is returned for step types outside the closed enumeration.
var ErrUnknownStepType = errors.New("unknown step type")

// NodeStatus is the per-run status of a single node.
type NodeStatus string

const (
	NodeIdle         NodeStatus = "idle"
	NodeQueued       NodeStatus = "queued"
	NodeRunning      NodeStatus = "running"
	NodeSuccess      NodeStatus = "success"
	NodeFailed       NodeStatus = "failed"
	NodeSkipped      NodeStatus = "skipped"
	NodeWaitingHuman NodeStatus = "waiting_human"
	NodeCancelled    NodeStatus = "cancelled"
)

// Terminal reports whether the node has reached a final status for this run.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSuccess, NodeFailed, NodeSkipped, NodeCancelled:
		return true
	}
	return false
}

// Active reports whether the node is handed off or blocked on a human.
func (s NodeStatus) Active() bool {
	return s == NodeQueued || s == NodeRunning || s == NodeWaitingHuman
}

// RunStatus is the aggregate status of a run.
type RunStatus string

const (
	RunIdle         RunStatus = "idle"
	RunRunning      RunStatus = "running"
	RunPaused       RunStatus = "paused"
	RunWaitingHuman RunStatus = "waiting_human"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
	RunCancelled    RunStatus = "cancelled"
)

// Terminal reports whether the run can no longer make progress.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Active reports whether a run is in flight.
func (s RunStatus) Active() bool {
	return s == RunRunning || s == RunPaused || s == RunWaitingHuman
}

// NodeExecutionState is owned by the execution controller. Callers receive copies.
type NodeExecutionState struct {
	Status          NodeStatus `json:"status"`
	StreamingOutput string     `json:"streamingOutput,omitempty"`
	Output          any        `json:"output,omitempty"`
	ActivePort      string     `json:"activePort,omitempty"`
	Error           string     `json:"error,omitempty"`
	DurationMs      int64      `json:"durationMs,omitempty"`
	StartedAt       time.Time  `json:"startedAt,omitempty"`
}

// PendingApprovalRequest is raised when a wait_for_human node is reached.
type PendingApprovalRequest struct {
	ID            string    `json:"id"`
	NodeID        string    `json:"nodeId"`
	PromptMessage string    `json:"promptMessage"`
	DataToReview  any       `json:"dataToReview,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ApprovalAction is the human's decision.
type ApprovalAction string

const (
	ApprovalApprove ApprovalAction = "approve"
	ApprovalReject  ApprovalAction = "reject"
)

// ApprovalResponse answers a PendingApprovalRequest.
type ApprovalResponse struct {
	RequestID string         `json:"requestId"`
	Action    ApprovalAction `json:"action"`
	Reason    string         `json:"reason,omitempty"`
}

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is derived from the graph and never persisted.
type ValidationIssue struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"nodeId,omitempty"`
	EdgeID   string   `json:"edgeId,omitempty"`
}
