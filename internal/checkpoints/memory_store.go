package checkpoints

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	checkpoints map[Key]Checkpoint
	mu          sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[Key]Checkpoint),
	}
}

func (m *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[cp.Key] = cp
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key Key) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, exists := m.checkpoints[key]
	if !exists {
		return Checkpoint{}, fmt.Errorf("%w: %s/%s", ErrNotFound, key.Workflow, key.RunID)
	}
	return cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, workflow string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Checkpoint
	for key, cp := range m.checkpoints {
		if key.Workflow == workflow {
			out = append(out, cp)
		}
	}
	slices.SortFunc(out, func(a, b Checkpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.RunID, b.Key.RunID)
	})
	return out, nil
}
