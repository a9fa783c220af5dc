package executors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	successes map[string]execution.Outcome
	failures  map[string]error
	cancelled []string
	chunks    []string
}

func newRecorder() *recorder {
	return &recorder{successes: map[string]execution.Outcome{}, failures: map[string]error{}}
}

func (r *recorder) ReportSuccess(_, nodeID string, out execution.Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes[nodeID] = out
	return true
}

func (r *recorder) ReportFailure(_, nodeID string, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[nodeID] = err
	return true
}

func (r *recorder) ReportCancelled(_, nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, nodeID)
	return true
}

func (r *recorder) AppendOutput(_, _, chunk string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	return true
}

func task(runID, nodeID string, st types.StepType, cfg map[string]any, inputs ...execution.Input) execution.Task {
	return execution.Task{
		RunID:  runID,
		Node:   types.Node{ID: nodeID, StepType: st, Label: nodeID, Config: cfg},
		Inputs: inputs,
	}
}

func TestPoolDispatch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry().Register(types.StepWebhook, Func(func(_ context.Context, task execution.Task, stream StreamFunc) (execution.Outcome, error) {
		stream("partial")
		return execution.Outcome{Output: "ok:" + task.Node.ID}, nil
	}))
	p := NewPool(context.Background(), reg)
	rec := newRecorder()

	p.Dispatch(task("r1", "hook", types.StepWebhook, nil), rec)
	p.Dispatch(task("r1", "tts", types.StepTTS, nil), rec)
	p.Wait()

	require.Equal(t, "ok:hook", rec.successes["hook"].Output)
	require.Equal(t, []string{"partial"}, rec.chunks)
	require.ErrorIs(t, rec.failures["tts"], ErrNoExecutor)
}

func TestPoolRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	flaky := Func(func(context.Context, execution.Task, StreamFunc) (execution.Outcome, error) {
		if calls.Add(1) == 1 {
			return execution.Outcome{}, errors.New("transient")
		}
		return execution.Outcome{Output: "done"}, nil
	})
	reg := NewRegistry().SetFallback(flaky)

	p := NewPool(context.Background(), reg, WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}))
	rec := newRecorder()
	p.Dispatch(task("r", "n", types.StepWebhook, nil), rec)
	p.Wait()
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, "done", rec.successes["n"].Output)

	alwaysFails := NewRegistry().SetFallback(Func(func(context.Context, execution.Task, StreamFunc) (execution.Outcome, error) {
		return execution.Outcome{}, errors.New("down")
	}))
	p = NewPool(context.Background(), alwaysFails, WithRetryPolicy(RetryPolicy{MaxAttempts: 2}))
	p.Dispatch(task("r", "m", types.StepWebhook, nil), rec)
	p.Wait()
	require.ErrorContains(t, rec.failures["m"], "failed after 2 attempts: down")
}

func TestPoolCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	blocking := Func(func(ctx context.Context, _ execution.Task, _ StreamFunc) (execution.Outcome, error) {
		close(started)
		<-ctx.Done()
		return execution.Outcome{}, ctx.Err()
	})
	p := NewPool(context.Background(), NewRegistry().SetFallback(blocking))
	rec := newRecorder()

	p.Dispatch(task("r", "n", types.StepWebhook, nil), rec)
	<-started
	p.Cancel("r")
	p.Wait()

	require.Equal(t, []string{"n"}, rec.cancelled)
	require.Empty(t, rec.failures)
}

func TestPoolConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	slow := Func(func(context.Context, execution.Task, StreamFunc) (execution.Outcome, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return execution.Outcome{}, nil
	})
	p := NewPool(context.Background(), NewRegistry().SetFallback(slow), WithMaxConcurrency(2))
	rec := newRecorder()
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		p.Dispatch(task("r", id, types.StepWebhook, nil), rec)
	}
	p.Wait()

	require.Len(t, rec.successes, 6)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolClose(t *testing.T) {
	t.Parallel()

	p := NewPool(context.Background(), NewRegistry().SetFallback(Delay))
	rec := newRecorder()
	p.Dispatch(task("r", "n", types.StepDelay, map[string]any{"durationMs": 60000}), rec)
	p.Close()
	require.Equal(t, []string{"n"}, rec.cancelled)
}
