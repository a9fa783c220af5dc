package graph

import (
	"fmt"

	"github.com/avi3tal/stepflow/internal/types"
)

// newNode builds a node for spec with the step's default config. The label
// starts as the step title.
func newNode(id string, spec types.StepSpec, pos types.Position) types.Node {
	return types.Node{
		ID:       id,
		StepType: spec.Type,
		Label:    spec.Title,
		Config:   spec.DefaultConfig(),
		Position: pos,
	}
}

func newUnknownStepError(t types.StepType) error {
	return fmt.Errorf("%w: %q", ErrUnknownStepType, t)
}

// portsOf resolves the step metadata of a node.
func portsOf(n types.Node) (types.StepSpec, error) {
	spec, ok := types.LookupStep(n.StepType)
	if !ok {
		return types.StepSpec{}, newUnknownStepError(n.StepType)
	}
	return spec, nil
}
