package executors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/execution"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency bounds how many steps run at once.
const DefaultMaxConcurrency = 4

// RetryPolicy defines how a step should handle failures
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithMaxConcurrency sets the maximum number of concurrent step executions
func WithMaxConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.limit = int64(n)
		}
	}
}

// WithRetryPolicy retries failed steps
func WithRetryPolicy(policy RetryPolicy) PoolOption {
	return func(p *Pool) {
		p.retry = policy
	}
}

// WithPoolLogger sets the logger handed to executors through their context
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pool dispatches tasks to registered executors on their own goroutines.
// It implements execution.Dispatcher.
type Pool struct {
	registry *Registry
	sem      *semaphore.Weighted
	limit    int64
	retry    RetryPolicy
	logger   *slog.Logger
	base     context.Context

	mu   sync.Mutex
	runs map[string]context.CancelFunc
	ctxs map[string]context.Context
	wg   sync.WaitGroup
}

var _ execution.Dispatcher = (*Pool)(nil)

// NewPool creates a pool whose step contexts derive from ctx.
func NewPool(ctx context.Context, registry *Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		registry: registry,
		limit:    DefaultMaxConcurrency,
		logger:   slog.Default(),
		base:     ctx,
		runs:     make(map[string]context.CancelFunc),
		ctxs:     make(map[string]context.Context),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(p.limit)
	return p
}

// Dispatch starts the task in the background and reports its outcome.
func (p *Pool) Dispatch(task execution.Task, reporter execution.Reporter) {
	ctx := p.runContext(task.RunID)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, task, reporter)
	}()
}

func (p *Pool) run(ctx context.Context, task execution.Task, reporter execution.Reporter) {
	logger := p.logger.With("run", task.RunID, "node", task.Node.ID, "step", task.Node.StepType)
	ctx = ctxlog.WithLogger(ctx, logger)

	exec, ok := p.registry.Lookup(task.Node.StepType)
	if !ok {
		reporter.ReportFailure(task.RunID, task.Node.ID, fmt.Errorf("%w: %s", ErrNoExecutor, task.Node.StepType))
		return
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		reporter.ReportCancelled(task.RunID, task.Node.ID)
		return
	}
	defer p.sem.Release(1)

	stream := func(chunk string) {
		reporter.AppendOutput(task.RunID, task.Node.ID, chunk)
	}

	out, err := p.execute(ctx, exec, task, stream)
	switch {
	case ctx.Err() != nil:
		logger.Debug("step cancelled")
		reporter.ReportCancelled(task.RunID, task.Node.ID)
	case err != nil:
		logger.Warn("step failed", "error", err)
		reporter.ReportFailure(task.RunID, task.Node.ID, err)
	default:
		reporter.ReportSuccess(task.RunID, task.Node.ID, out)
	}
}

func (p *Pool) execute(ctx context.Context, exec StepExecutor, task execution.Task, stream StreamFunc) (execution.Outcome, error) {
	attempts := max(p.retry.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return execution.Outcome{}, ctx.Err()
			case <-time.After(p.retry.Delay):
			}
		}
		out, err := exec.Execute(ctx, task, stream)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if attempts > 1 {
		return execution.Outcome{}, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return execution.Outcome{}, lastErr
}

func (p *Pool) runContext(runID string) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx, ok := p.ctxs[runID]; ok {
		return ctx
	}
	ctx, cancel := context.WithCancel(p.base)
	p.ctxs[runID] = ctx
	p.runs[runID] = cancel
	return ctx
}

// Cancel aborts every step of the run.
func (p *Pool) Cancel(runID string) {
	p.mu.Lock()
	cancel, ok := p.runs[runID]
	delete(p.runs, runID)
	delete(p.ctxs, runID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Wait blocks until every dispatched step has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close cancels all runs and waits for their steps to return.
func (p *Pool) Close() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.runs))
	for id, cancel := range p.runs {
		cancels = append(cancels, cancel)
		delete(p.runs, id)
		delete(p.ctxs, id)
	}
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	p.wg.Wait()
}
