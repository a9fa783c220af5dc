package checkpoints

import (
	"context"
	"testing"
	"time"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, Checkpoint{Key: Key{"wf", "b"}, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.Save(ctx, Checkpoint{Key: Key{"wf", "a"}, CreatedAt: base}))
	require.NoError(t, store.Save(ctx, Checkpoint{Key: Key{"other", "c"}, CreatedAt: base}))

	list, err := store.List(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].Key.RunID)
	require.Equal(t, "b", list[1].Key.RunID)

	require.NoError(t, store.Delete(ctx, Key{"wf", "a"}))
	_, err = store.Load(ctx, Key{"wf", "a"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	rec := NewRecorder("wf", NewMemoryStore(), func() time.Time { return now })

	require.NoError(t, rec.Record(ctx, execution.RunSnapshot{RunID: "r0", Status: types.RunRunning}))
	done := execution.RunSnapshot{RunID: "r1", Status: types.RunCompleted, NodeStates: map[string]types.NodeExecutionState{}}
	require.NoError(t, rec.Record(ctx, done))

	list, err := rec.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "active runs are not archived")
	require.Equal(t, now, list[0].CreatedAt)
	require.Equal(t, types.RunCompleted, list[0].Status)

	got, err := rec.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, done, got)

	_, err = rec.Load(ctx, "r0")
	require.ErrorIs(t, err, ErrNotFound)
}
