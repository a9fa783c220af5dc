package graph

import (
	"errors"
	"fmt"

	"github.com/avi3tal/stepflow/internal/types"
)

var (
	// ErrUnknownStepType is returned by AddNode for a step type outside the registry
	ErrUnknownStepType = types.ErrUnknownStepType

	// ErrNodeNotFound is returned when referencing a non-existent node
	ErrNodeNotFound = errors.New("node not found")

	// ErrPortNotFound is returned when a port is not declared by the node's step
	ErrPortNotFound = errors.New("port not declared by step")

	// ErrSelfConnection is returned when an edge would connect a node to itself
	ErrSelfConnection = errors.New("cannot connect a node to itself")

	// ErrDuplicateEdge is returned when the same ports are already connected
	ErrDuplicateEdge = errors.New("edge already exists")

	// ErrIncompatibleTypes is returned when the port data types do not match
	ErrIncompatibleTypes = errors.New("incompatible port data types")

	// ErrPortOccupied is returned when a single-cardinality input already has an edge
	ErrPortOccupied = errors.New("input port accepts a single edge")
)

// ConnectionError describes a rejected Connect call
type ConnectionError struct {
	// Source is the requested output endpoint
	Source types.PortRef
	// Target is the requested input endpoint
	Target types.PortRef
	// Err is the underlying error
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s.%s -> %s.%s: %v",
		e.Source.NodeID, e.Source.PortID, e.Target.NodeID, e.Target.PortID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func newConnectionError(src, tgt types.PortRef, err error) error {
	return &ConnectionError{Source: src, Target: tgt, Err: err}
}
