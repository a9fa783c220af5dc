// Package executors runs workflow steps on behalf of the execution
// controller.
package executors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/goccy/go-json"
)

// ErrNoExecutor is reported when no executor is registered for a step type.
var ErrNoExecutor = errors.New("no executor registered for step type")

// StreamFunc receives incremental output while a step runs.
type StreamFunc func(chunk string)

// StepExecutor runs a single step. It must honor ctx cancellation.
type StepExecutor interface {
	Execute(ctx context.Context, task execution.Task, stream StreamFunc) (execution.Outcome, error)
}

// Func adapts a plain function to StepExecutor.
type Func func(ctx context.Context, task execution.Task, stream StreamFunc) (execution.Outcome, error)

func (f Func) Execute(ctx context.Context, task execution.Task, stream StreamFunc) (execution.Outcome, error) {
	return f(ctx, task, stream)
}

// Registry maps step types to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[types.StepType]StepExecutor
	fallback  StepExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[types.StepType]StepExecutor)}
}

// Register sets the executor for a step type, replacing any previous one.
func (r *Registry) Register(t types.StepType, e StepExecutor) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
	return r
}

// SetFallback sets the executor used for step types without their own.
func (r *Registry) SetFallback(e StepExecutor) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
	return r
}

// Lookup returns the executor for t, or the fallback.
func (r *Registry) Lookup(t types.StepType) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.executors[t]; ok {
		return e, true
	}
	return r.fallback, r.fallback != nil
}

// InputText renders the task inputs as one text block, one input per line.
// Non-string values are encoded as JSON.
func InputText(inputs []execution.Input) string {
	parts := make([]string, 0, len(inputs))
	for _, in := range inputs {
		switch v := in.Value.(type) {
		case nil:
			continue
		case string:
			parts = append(parts, v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				parts = append(parts, fmt.Sprint(v))
				continue
			}
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}

// FirstInput returns the value of the first input, or nil.
func FirstInput(inputs []execution.Input) any {
	if len(inputs) == 0 {
		return nil
	}
	return inputs[0].Value
}

func inputMap(inputs []execution.Input) map[string]any {
	m := make(map[string]any, len(inputs))
	for _, in := range inputs {
		m[in.Source] = in.Value
	}
	return m
}

// Passthrough succeeds immediately, forwarding its inputs. It stands in for
// steps whose behavior lives outside the engine.
var Passthrough = Func(func(_ context.Context, task execution.Task, _ StreamFunc) (execution.Outcome, error) {
	if len(task.Inputs) == 1 {
		return execution.Outcome{Output: task.Inputs[0].Value}, nil
	}
	return execution.Outcome{Output: inputMap(task.Inputs)}, nil
})
