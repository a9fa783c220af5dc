// Package history keeps a bounded, linear undo/redo stack of graph
// snapshots.
package history

import (
	"log/slog"
	"sync"

	"github.com/avi3tal/stepflow/internal/types"
)

// DefaultLimit is the number of undo steps kept when no limit is configured.
const DefaultLimit = 50

// Source is the graph a Manager records and restores.
type Source interface {
	Snapshot() types.Snapshot
	Restore(types.Snapshot)
	Subscribe(func(types.GraphChange))
}

// Option configures a Manager
type Option func(*Manager)

// WithLimit bounds the number of undo steps. Values below one are ignored.
func WithLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// WithLogger sets the logger for the manager
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager records one snapshot per structural mutation of its source.
//
// entries[index] always equals the source's current topology. Snapshots
// share node values with the store, so pushing an entry never deep-copies
// the graph.
type Manager struct {
	mu      sync.Mutex
	source  Source
	entries []types.Snapshot
	index   int
	limit   int
	logger  *slog.Logger
}

// New creates a manager seeded with the source's current topology and
// subscribes it to the source's changes.
func New(source Source, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		limit:  DefaultLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.entries = []types.Snapshot{source.Snapshot()}
	source.Subscribe(m.onChange)
	return m
}

func (m *Manager) onChange(change types.GraphChange) {
	switch change.Kind {
	case types.ChangeRestore:
		// undo and redo publish restores; the stack already points at them
		return
	case types.ChangeReplace:
		m.reset(change.Snapshot)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(change.Snapshot)
	m.logger.Debug("history entry recorded", "op", change.Op, "depth", m.index)
}

// push drops any redo entries, appends snap and evicts the oldest entries
// past the limit. Callers hold the lock.
func (m *Manager) push(snap types.Snapshot) {
	entries := make([]types.Snapshot, 0, m.index+2)
	entries = append(entries, m.entries[:m.index+1]...)
	entries = append(entries, snap)
	if over := len(entries) - (m.limit + 1); over > 0 {
		entries = entries[over:]
	}
	m.entries = entries
	m.index = len(entries) - 1
}

// Undo restores the previous snapshot. It reports false at the oldest entry.
func (m *Manager) Undo() bool {
	m.mu.Lock()
	if m.index == 0 {
		m.mu.Unlock()
		return false
	}
	m.index--
	snap := m.entries[m.index]
	m.mu.Unlock()

	// graph listeners may read the history while the restore is published
	m.source.Restore(snap)
	return true
}

// Redo reapplies the next snapshot. It reports false at the newest entry.
func (m *Manager) Redo() bool {
	m.mu.Lock()
	if m.index >= len(m.entries)-1 {
		m.mu.Unlock()
		return false
	}
	m.index++
	snap := m.entries[m.index]
	m.mu.Unlock()

	m.source.Restore(snap)
	return true
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index > 0
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index < len(m.entries)-1
}

// Len is the number of stored snapshots, including the current one.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Reset drops all entries and re-seeds from the source.
func (m *Manager) Reset() {
	m.reset(m.source.Snapshot())
}

func (m *Manager) reset(snap types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = []types.Snapshot{snap}
	m.index = 0
}
