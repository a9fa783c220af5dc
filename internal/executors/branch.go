package executors

import (
	"context"
	"fmt"
	"sync"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Branch evaluates the step's boolean condition and activates the "true" or
// "false" port. The condition sees `input` (first upstream value), `inputs`
// (upstream values by node id) and `node` (the step's label).
type Branch struct {
	cache sync.Map // condition -> *vm.Program
}

func NewBranch() *Branch {
	return &Branch{}
}

func conditionEnv(task execution.Task) map[string]any {
	return map[string]any{
		"input":  FirstInput(task.Inputs),
		"inputs": inputMap(task.Inputs),
		"node":   task.Node.Label,
	}
}

func (b *Branch) Execute(_ context.Context, task execution.Task, _ StreamFunc) (execution.Outcome, error) {
	raw, err := types.DecodeConfig(types.StepBranch, task.Node.Config)
	if err != nil {
		return execution.Outcome{}, err
	}
	cond := raw.(*types.BranchConfig).Condition

	program, err := b.compile(cond)
	if err != nil {
		return execution.Outcome{}, err
	}
	result, err := expr.Run(program, conditionEnv(task))
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("evaluate condition %q: %w", cond, err)
	}
	matched, ok := result.(bool)
	if !ok {
		return execution.Outcome{}, fmt.Errorf("condition %q evaluated to %T, want bool", cond, result)
	}

	port := types.PortFalse
	if matched {
		port = types.PortTrue
	}
	return execution.Outcome{ActivePort: port, Output: FirstInput(task.Inputs)}, nil
}

func (b *Branch) compile(cond string) (*vm.Program, error) {
	if cached, ok := b.cache.Load(cond); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(cond, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("parse condition %q: %w", cond, err)
	}
	b.cache.Store(cond, program)
	return program, nil
}
