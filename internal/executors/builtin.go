package executors

import (
	"context"
	"log/slog"
	"time"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
)

// Log writes the step's message to the context logger and forwards its
// inputs unchanged.
var Log = Func(func(ctx context.Context, task execution.Task, stream StreamFunc) (execution.Outcome, error) {
	raw, err := types.DecodeConfig(types.StepLog, task.Node.Config)
	if err != nil {
		return execution.Outcome{}, err
	}
	cfg := raw.(*types.LogConfig)

	msg := cfg.Message
	if msg == "" {
		msg = task.Node.Label
	}
	ctxlog.FromContext(ctx).Log(ctx, ctxlog.ParseLevel(cfg.Level), msg, slog.String("input", InputText(task.Inputs)))
	if stream != nil {
		stream(msg)
	}
	return Passthrough(ctx, task, stream)
})

// Delay waits for the configured duration, then forwards its inputs.
var Delay = Func(func(ctx context.Context, task execution.Task, stream StreamFunc) (execution.Outcome, error) {
	raw, err := types.DecodeConfig(types.StepDelay, task.Node.Config)
	if err != nil {
		return execution.Outcome{}, err
	}
	d := time.Duration(raw.(*types.DelayConfig).DurationMs) * time.Millisecond

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return execution.Outcome{}, ctx.Err()
	case <-timer.C:
	}
	return Passthrough(ctx, task, stream)
})
