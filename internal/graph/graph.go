// Package graph holds the canonical node and edge collection of a workflow
// together with the editor's selection.
package graph

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/avi3tal/stepflow/internal/types"
	"github.com/google/uuid"
)

// NodeUpdate is a partial update merged into a node. A nil Label leaves the
// label untouched; Config keys are merged over the existing config.
type NodeUpdate struct {
	Label  *string
	Config map[string]any
}

// Selection is the editor's current selection.
type Selection struct {
	Nodes []string
	Edges []string
}

// Store is the single source of truth for topology and selection.
//
// The node and edge slices are replaced, never written in place, so a
// Snapshot stays valid after later mutations.
type Store struct {
	mu        sync.RWMutex
	nodes     []types.Node
	edges     []types.Edge
	selNodes  []string
	selEdges  []string
	revision  uint64
	listeners []func(types.GraphChange)

	offset      types.Position
	cardinality CardinalityFunc
	newID       func() string
	logger      *slog.Logger
}

// New creates an empty graph store
func New(opts ...Option) *Store {
	s := &Store{
		offset:      DefaultDuplicateOffset,
		cardinality: DeclaredCardinality,
		newID:       uuid.NewString,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to be called after every topology change. Listeners
// run outside the store lock and may call back into the store.
func (s *Store) Subscribe(fn func(types.GraphChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Revision increases on every topology change.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Snapshot returns the current topology. Node values are shared and read-only.
func (s *Store) Snapshot() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.Snapshot{Nodes: s.nodes, Edges: s.edges}
}

// Current returns the topology together with the revision it belongs to.
func (s *Store) Current() (types.Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.Snapshot{Nodes: s.nodes, Edges: s.edges}, s.revision
}

// Nodes returns the nodes in insertion order.
func (s *Store) Nodes() []types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.nodes)
}

// Edges returns the edges in insertion order.
func (s *Store) Edges() []types.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.edges)
}

// Node looks up a node by id.
func (s *Store) Node(id string) (types.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return types.Node{}, false
	}
	return s.nodes[i], true
}

// AddNode creates a node with the step's default config.
func (s *Store) AddNode(stepType types.StepType, pos types.Position) (types.Node, error) {
	spec, ok := types.LookupStep(stepType)
	if !ok {
		return types.Node{}, newUnknownStepError(stepType)
	}

	s.mu.Lock()
	n := newNode(s.newID(), spec, pos)
	s.nodes = appendCopy(s.nodes, n)
	change := s.commit("add_node", types.ChangeMutation)
	s.mu.Unlock()

	s.logger.Debug("node added", "node", n.ID, "step", stepType)
	s.publish(change)
	return n, nil
}

// UpdateNode merges update into the node. It reports false, and changes
// nothing, when the node does not exist. An empty update commits nothing.
func (s *Store) UpdateNode(id string, update NodeUpdate) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	if update.Label == nil && len(update.Config) == 0 {
		s.mu.Unlock()
		return true
	}
	n := s.nodes[i]
	if update.Label != nil {
		n.Label = *update.Label
	}
	if len(update.Config) > 0 {
		cfg := types.CloneConfig(n.Config)
		if cfg == nil {
			cfg = make(map[string]any, len(update.Config))
		}
		for k, v := range types.CloneConfig(update.Config) {
			cfg[k] = v
		}
		n.Config = cfg
	}
	nodes := slices.Clone(s.nodes)
	nodes[i] = n
	s.nodes = nodes
	change := s.commit("update_node", types.ChangeMutation)
	s.mu.Unlock()

	s.publish(change)
	return true
}

// DeleteNodes removes the nodes and every edge touching them. Unknown ids
// are ignored; nothing is published when no node matched.
func (s *Store) DeleteNodes(ids []string) {
	drop := toSet(ids)

	s.mu.Lock()
	nodes := make([]types.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if _, ok := drop[n.ID]; !ok {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == len(s.nodes) {
		s.mu.Unlock()
		return
	}
	s.nodes = nodes
	s.edges = filterEdges(s.edges, func(e types.Edge) bool {
		_, src := drop[e.Source]
		_, tgt := drop[e.Target]
		return !src && !tgt
	})
	s.pruneSelection()
	change := s.commit("delete_nodes", types.ChangeMutation)
	s.mu.Unlock()

	s.logger.Debug("nodes deleted", "count", len(ids))
	s.publish(change)
}

// DeleteEdges removes edges by id. Unknown ids are ignored.
func (s *Store) DeleteEdges(ids []string) {
	drop := toSet(ids)

	s.mu.Lock()
	edges := filterEdges(s.edges, func(e types.Edge) bool {
		_, ok := drop[e.ID]
		return !ok
	})
	if len(edges) == len(s.edges) {
		s.mu.Unlock()
		return
	}
	s.edges = edges
	s.pruneSelection()
	change := s.commit("delete_edges", types.ChangeMutation)
	s.mu.Unlock()

	s.publish(change)
}

// Disconnect removes one edge. It reports whether the edge existed.
func (s *Store) Disconnect(edgeID string) bool {
	s.mu.Lock()
	found := slices.ContainsFunc(s.edges, func(e types.Edge) bool { return e.ID == edgeID })
	if !found {
		s.mu.Unlock()
		return false
	}
	s.edges = filterEdges(s.edges, func(e types.Edge) bool { return e.ID != edgeID })
	s.pruneSelection()
	change := s.commit("disconnect", types.ChangeMutation)
	s.mu.Unlock()

	s.publish(change)
	return true
}

// DuplicateNodes clones the given nodes with new ids, shifted by the
// duplicate offset. Edges between two duplicated nodes are cloned too; edges
// leaving the set are not. The duplicates become the node selection.
func (s *Store) DuplicateNodes(ids []string) []types.Node {
	want := toSet(ids)

	s.mu.Lock()
	remap := make(map[string]string)
	var clones []types.Node
	for _, n := range s.nodes {
		if _, ok := want[n.ID]; !ok {
			continue
		}
		c := n.Clone()
		c.ID = s.newID()
		c.Position = n.Position.Add(s.offset)
		remap[n.ID] = c.ID
		clones = append(clones, c)
	}
	if len(clones) == 0 {
		s.mu.Unlock()
		return nil
	}
	var edges []types.Edge
	for _, e := range s.edges {
		src, okSrc := remap[e.Source]
		tgt, okTgt := remap[e.Target]
		if !okSrc || !okTgt {
			continue
		}
		e.ID = s.newID()
		e.Source, e.Target = src, tgt
		edges = append(edges, e)
	}
	s.nodes = appendCopy(s.nodes, clones...)
	s.edges = appendCopy(s.edges, edges...)
	s.selNodes = make([]string, 0, len(clones))
	for _, c := range clones {
		s.selNodes = append(s.selNodes, c.ID)
	}
	s.selEdges = nil
	change := s.commit("duplicate_nodes", types.ChangeMutation)
	s.mu.Unlock()

	s.publish(change)
	return slices.Clone(clones)
}

// Connect adds an edge from an output port to an input port.
func (s *Store) Connect(source, target types.PortRef) (types.Edge, error) {
	s.mu.Lock()
	e, err := s.checkConnection(source, target)
	if err != nil {
		s.mu.Unlock()
		return types.Edge{}, newConnectionError(source, target, err)
	}
	e.ID = s.newID()
	s.edges = appendCopy(s.edges, e)
	change := s.commit("connect", types.ChangeMutation)
	s.mu.Unlock()

	s.publish(change)
	return e, nil
}

// MoveNodes updates node positions. Intermediate drag frames pass
// final=false and are neither published nor recorded; the caller commits the
// drag with one final=true call.
func (s *Store) MoveNodes(positions map[string]types.Position, final bool) {
	s.mu.Lock()
	nodes := slices.Clone(s.nodes)
	moved := false
	for i, n := range nodes {
		if p, ok := positions[n.ID]; ok {
			n.Position = p
			nodes[i] = n
			moved = true
		}
	}
	if !moved {
		s.mu.Unlock()
		return
	}
	s.nodes = nodes
	if !final {
		s.mu.Unlock()
		return
	}
	change := s.commit("move_nodes", types.ChangeMutation)
	s.mu.Unlock()

	s.publish(change)
}

// Clear removes every node and edge.
func (s *Store) Clear() {
	s.mu.Lock()
	if len(s.nodes) == 0 && len(s.edges) == 0 {
		s.mu.Unlock()
		return
	}
	s.nodes, s.edges = nil, nil
	s.selNodes, s.selEdges = nil, nil
	change := s.commit("clear", types.ChangeMutation)
	s.mu.Unlock()

	s.publish(change)
}

// Replace swaps in a whole topology, as when a document is loaded. The
// inputs are copied and not checked; the validator reports their problems.
func (s *Store) Replace(nodes []types.Node, edges []types.Edge) {
	cloned := make([]types.Node, len(nodes))
	for i, n := range nodes {
		cloned[i] = n.Clone()
	}

	s.mu.Lock()
	s.nodes = cloned
	s.edges = slices.Clone(edges)
	s.selNodes, s.selEdges = nil, nil
	change := s.commit("replace", types.ChangeReplace)
	s.mu.Unlock()

	s.publish(change)
}

// Restore reinstates a snapshot taken earlier. It clears the selection and
// is published as a restore, which history does not record.
func (s *Store) Restore(snap types.Snapshot) {
	s.mu.Lock()
	s.nodes = snap.Nodes
	s.edges = snap.Edges
	s.selNodes, s.selEdges = nil, nil
	change := s.commit("restore", types.ChangeRestore)
	s.mu.Unlock()

	s.publish(change)
}

// SetSelectedNodes replaces the node selection. Unknown ids are dropped.
func (s *Store) SetSelectedNodes(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selNodes = s.existing(ids, func(id string) bool { return s.indexOf(id) >= 0 })
}

// SetSelectedEdges replaces the edge selection. Unknown ids are dropped.
func (s *Store) SetSelectedEdges(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selEdges = s.existing(ids, s.hasEdge)
}

// SelectAll selects every node and edge.
func (s *Store) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selNodes = make([]string, len(s.nodes))
	for i, n := range s.nodes {
		s.selNodes[i] = n.ID
	}
	s.selEdges = make([]string, len(s.edges))
	for i, e := range s.edges {
		s.selEdges[i] = e.ID
	}
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selNodes, s.selEdges = nil, nil
}

// Selection returns the current selection.
func (s *Store) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Selection{Nodes: slices.Clone(s.selNodes), Edges: slices.Clone(s.selEdges)}
}

// commit bumps the revision and captures the change. Callers hold the lock.
func (s *Store) commit(op string, kind types.ChangeKind) types.GraphChange {
	s.revision++
	return types.GraphChange{
		Kind:     kind,
		Op:       op,
		Revision: s.revision,
		Snapshot: types.Snapshot{Nodes: s.nodes, Edges: s.edges},
	}
}

func (s *Store) publish(change types.GraphChange) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.nodes, func(n types.Node) bool { return n.ID == id })
}

func (s *Store) hasEdge(id string) bool {
	return slices.ContainsFunc(s.edges, func(e types.Edge) bool { return e.ID == id })
}

func (s *Store) existing(ids []string, ok func(string) bool) []string {
	var out []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || !ok(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Store) pruneSelection() {
	s.selNodes = slices.DeleteFunc(slices.Clone(s.selNodes), func(id string) bool { return s.indexOf(id) < 0 })
	s.selEdges = slices.DeleteFunc(slices.Clone(s.selEdges), func(id string) bool { return !s.hasEdge(id) })
}

// appendCopy appends into a fresh backing array so earlier snapshots are
// never aliased.
func appendCopy[T any](base []T, items ...T) []T {
	out := make([]T, 0, len(base)+len(items))
	out = append(out, base...)
	return append(out, items...)
}

func filterEdges(edges []types.Edge, keep func(types.Edge) bool) []types.Edge {
	out := make([]types.Edge, 0, len(edges))
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
