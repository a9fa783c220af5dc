package graph

import (
	"fmt"

	"github.com/avi3tal/stepflow/internal/types"
)

// checkConnection validates a requested edge against the current topology.
// Callers hold the lock. The returned edge has no id yet.
func (s *Store) checkConnection(source, target types.PortRef) (types.Edge, error) {
	if source.NodeID == target.NodeID {
		return types.Edge{}, ErrSelfConnection
	}

	srcIdx, tgtIdx := s.indexOf(source.NodeID), s.indexOf(target.NodeID)
	if srcIdx < 0 {
		return types.Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, source.NodeID)
	}
	if tgtIdx < 0 {
		return types.Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, target.NodeID)
	}
	srcNode, tgtNode := s.nodes[srcIdx], s.nodes[tgtIdx]

	srcSpec, err := portsOf(srcNode)
	if err != nil {
		return types.Edge{}, err
	}
	tgtSpec, err := portsOf(tgtNode)
	if err != nil {
		return types.Edge{}, err
	}

	out, ok := srcSpec.Output(source.PortID)
	if !ok {
		return types.Edge{}, fmt.Errorf("%w: output %q on %s", ErrPortNotFound, source.PortID, srcNode.StepType)
	}
	in, ok := tgtSpec.Input(target.PortID)
	if !ok {
		return types.Edge{}, fmt.Errorf("%w: input %q on %s", ErrPortNotFound, target.PortID, tgtNode.StepType)
	}
	if !out.DataType.Compatible(in.DataType) {
		return types.Edge{}, fmt.Errorf("%w: %s -> %s", ErrIncompatibleTypes, out.DataType, in.DataType)
	}

	occupied := false
	for _, e := range s.edges {
		if e.SourceRef() == source && e.TargetRef() == target {
			return types.Edge{}, ErrDuplicateEdge
		}
		if e.TargetRef() == target {
			occupied = true
		}
	}
	if occupied && s.cardinality(tgtNode, in) == types.CardinalitySingle {
		return types.Edge{}, ErrPortOccupied
	}

	return types.Edge{
		Source:     source.NodeID,
		SourcePort: source.PortID,
		Target:     target.NodeID,
		TargetPort: target.PortID,
	}, nil
}
