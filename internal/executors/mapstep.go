package executors

import (
	"context"
	"fmt"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/expr-lang/expr"
	"golang.org/x/sync/errgroup"
)

// Map applies the step's expression to every element of its list input.
// The expression sees `item` and `index`; results keep the input order.
type Map struct{}

func (Map) Execute(ctx context.Context, task execution.Task, _ StreamFunc) (execution.Outcome, error) {
	raw, err := types.DecodeConfig(types.StepMap, task.Node.Config)
	if err != nil {
		return execution.Outcome{}, err
	}
	cfg := raw.(*types.MapConfig)

	items, ok := FirstInput(task.Inputs).([]any)
	if !ok {
		return execution.Outcome{}, fmt.Errorf("map input must be a list, got %T", FirstInput(task.Inputs))
	}

	program, err := expr.Compile(cfg.Expression, expr.AllowUndefinedVariables())
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("parse expression %q: %w", cfg.Expression, err)
	}

	results := make([]any, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Concurrency, 1))
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := expr.Run(program, map[string]any{"item": item, "index": i})
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return execution.Outcome{}, err
	}
	return execution.Outcome{Output: results}, nil
}
