package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrRunActive is returned when starting a run while another is in flight
	ErrRunActive = errors.New("a run is already active")

	// ErrNotValidated is returned when the current graph revision has no validation result
	ErrNotValidated = errors.New("graph must be validated before a run starts")

	// ErrGraphInvalid is returned when validation reported errors
	ErrGraphInvalid = errors.New("graph has validation errors")

	// ErrNoActiveRun is returned by run controls that need a run in flight
	ErrNoActiveRun = errors.New("no active run")

	// ErrNotTerminal is returned when resetting a run that has not finished
	ErrNotTerminal = errors.New("run has not reached a terminal status")

	// ErrApprovalNotFound is returned for unknown or already resolved approval requests
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrInvalidAction is returned for an approval action other than approve or reject
	ErrInvalidAction = errors.New("invalid approval action")

	// ErrStepCancelled is recorded on nodes whose executor gave up
	ErrStepCancelled = errors.New("step cancelled by executor")

	// ErrNoDispatcher is recorded on nodes when no executor dispatcher is configured
	ErrNoDispatcher = errors.New("no step executor configured")
)

// ExecutionError represents an error during the workflow run
type ExecutionError struct {
	// Phase is the execution phase where the error occurred
	Phase string
	// Node is the ID of the node being executed
	Node string
	// Err is the underlying error
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("execution error: %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("execution error: %s: node '%s': %v", e.Phase, e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(phase string, node string, err error) error {
	return &ExecutionError{
		Phase: phase,
		Node:  node,
		Err:   err,
	}
}
