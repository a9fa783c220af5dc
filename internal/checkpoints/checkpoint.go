// Package checkpoints archives the final state of finished runs so they can
// be inspected after the engine has moved on to the next run.
package checkpoints

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
)

// ErrNotFound is returned when no checkpoint exists for a key
var ErrNotFound = errors.New("checkpoint not found")

// Key identifies one run of one workflow.
type Key struct {
	Workflow string
	RunID    string
}

// Checkpoint is the archived snapshot of a finished run.
type Checkpoint struct {
	Key       Key
	CreatedAt time.Time
	Status    types.RunStatus
	Run       execution.RunSnapshot
}

// Store persists checkpoints.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, key Key) (Checkpoint, error)
	Delete(ctx context.Context, key Key) error
	// List returns the checkpoints of a workflow, oldest first.
	List(ctx context.Context, workflow string) ([]Checkpoint, error)
}

// Recorder saves a checkpoint for every run of one workflow that reaches a
// terminal status.
type Recorder struct {
	workflow string
	store    Store
	clock    func() time.Time
}

func NewRecorder(workflow string, store Store, clock func() time.Time) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{workflow: workflow, store: store, clock: clock}
}

// Record archives snap if its run is terminal. Active runs are ignored.
func (r *Recorder) Record(ctx context.Context, snap execution.RunSnapshot) error {
	if !snap.Status.Terminal() {
		return nil
	}
	cp := Checkpoint{
		Key:       Key{Workflow: r.workflow, RunID: snap.RunID},
		CreatedAt: r.clock(),
		Status:    snap.Status,
		Run:       snap,
	}
	if err := r.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint for workflow %s and run %s: %w", r.workflow, snap.RunID, err)
	}
	return nil
}

// Load returns the archived snapshot of runID.
func (r *Recorder) Load(ctx context.Context, runID string) (execution.RunSnapshot, error) {
	cp, err := r.store.Load(ctx, Key{Workflow: r.workflow, RunID: runID})
	if err != nil {
		return execution.RunSnapshot{}, fmt.Errorf("failed to load checkpoint for workflow %s and run %s: %w", r.workflow, runID, err)
	}
	return cp.Run, nil
}

// List returns the archived runs, oldest first.
func (r *Recorder) List(ctx context.Context) ([]Checkpoint, error) {
	return r.store.List(ctx, r.workflow)
}
