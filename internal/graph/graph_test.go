package graph

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/avi3tal/stepflow/internal/types"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestStore(opts ...Option) *Store {
	return New(append([]Option{WithIDGenerator(sequentialIDs())}, opts...)...)
}

func mustAdd(t *testing.T, s *Store, st types.StepType) types.Node {
	t.Helper()
	n, err := s.AddNode(st, types.Position{})
	require.NoError(t, err)
	return n
}

func mustConnect(t *testing.T, s *Store, src, srcPort, tgt, tgtPort string) types.Edge {
	t.Helper()
	e, err := s.Connect(types.PortRef{NodeID: src, PortID: srcPort}, types.PortRef{NodeID: tgt, PortID: tgtPort})
	require.NoError(t, err)
	return e
}

func TestAddNode(t *testing.T) {
	t.Parallel()

	t.Run("uses step defaults", func(t *testing.T) {
		t.Parallel()
		s := newTestStore()
		n, err := s.AddNode(types.StepPrompt, types.Position{X: 10, Y: 20})
		require.NoError(t, err)
		require.Equal(t, "id-1", n.ID)
		require.Equal(t, types.StepPrompt, n.StepType)
		require.Equal(t, "Prompt", n.Label)
		require.Equal(t, 0.7, n.Config["temperature"])
		require.Equal(t, types.Position{X: 10, Y: 20}, n.Position)
		require.Equal(t, uint64(1), s.Revision())
	})

	t.Run("unknown step type", func(t *testing.T) {
		t.Parallel()
		s := newTestStore()
		_, err := s.AddNode("teleport", types.Position{})
		require.ErrorIs(t, err, ErrUnknownStepType)
		require.Empty(t, s.Nodes())
		require.Zero(t, s.Revision())
	})

	t.Run("default ids are unique", func(t *testing.T) {
		t.Parallel()
		s := New()
		a := mustAdd(t, s, types.StepLog)
		b := mustAdd(t, s, types.StepLog)
		require.NotEqual(t, a.ID, b.ID)
	})
}

func TestUpdateNode(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	n := mustAdd(t, s, types.StepPrompt)
	before := s.Snapshot()

	label := "Summarize"
	ok := s.UpdateNode(n.ID, NodeUpdate{Label: &label, Config: map[string]any{"prompt": "sum it"}})
	require.True(t, ok)

	got, ok := s.Node(n.ID)
	require.True(t, ok)
	require.Equal(t, "Summarize", got.Label)
	require.Equal(t, "sum it", got.Config["prompt"])
	require.Equal(t, 0.7, got.Config["temperature"])

	// the earlier snapshot is untouched
	require.Equal(t, "Prompt", before.Nodes[0].Label)
	require.Equal(t, "", before.Nodes[0].Config["prompt"])

	rev := s.Revision()
	require.False(t, s.UpdateNode("missing", NodeUpdate{Label: &label}))
	require.Equal(t, rev, s.Revision())

	published := 0
	s.Subscribe(func(types.GraphChange) { published++ })
	require.True(t, s.UpdateNode(n.ID, NodeUpdate{Config: map[string]any{}}), "empty update on a known node")
	require.Equal(t, rev, s.Revision())
	require.Zero(t, published)
}

func TestDeleteNodes(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	start := mustAdd(t, s, types.StepStart)
	log := mustAdd(t, s, types.StepLog)
	end := mustAdd(t, s, types.StepEnd)
	mustConnect(t, s, start.ID, types.PortOut, log.ID, types.PortIn)
	mustConnect(t, s, log.ID, types.PortOut, end.ID, types.PortIn)
	s.SetSelectedNodes([]string{log.ID, end.ID})

	s.DeleteNodes([]string{log.ID, "nope"})
	require.Len(t, s.Nodes(), 2)
	require.Empty(t, s.Edges())
	require.Equal(t, []string{end.ID}, s.Selection().Nodes)

	rev := s.Revision()
	s.DeleteNodes([]string{log.ID})
	require.Equal(t, rev, s.Revision(), "deleting twice is a no-op")
}

func TestDuplicateNodes(t *testing.T) {
	t.Parallel()

	s := newTestStore(WithDuplicateOffset(types.Position{X: 5, Y: 5}))
	start := mustAdd(t, s, types.StepStart)
	a := mustAdd(t, s, types.StepLog)
	b := mustAdd(t, s, types.StepLog)
	require.True(t, s.UpdateNode(a.ID, NodeUpdate{Config: map[string]any{"message": "hi"}}))
	mustConnect(t, s, start.ID, types.PortOut, a.ID, types.PortIn)
	mustConnect(t, s, a.ID, types.PortOut, b.ID, types.PortIn)

	dups := s.DuplicateNodes([]string{a.ID, b.ID})
	require.Len(t, dups, 2)
	require.NotEqual(t, a.ID, dups[0].ID)
	require.Equal(t, "hi", dups[0].Config["message"])
	require.Equal(t, types.Position{X: 5, Y: 5}, dups[0].Position)

	edges := s.Edges()
	require.Len(t, edges, 3, "internal edge cloned, incoming edge from start not")
	last := edges[2]
	require.Equal(t, dups[0].ID, last.Source)
	require.Equal(t, dups[1].ID, last.Target)
	require.Equal(t, []string{dups[0].ID, dups[1].ID}, s.Selection().Nodes)

	// config is not shared with the original
	require.True(t, s.UpdateNode(dups[0].ID, NodeUpdate{Config: map[string]any{"message": "bye"}}))
	orig, _ := s.Node(a.ID)
	require.Equal(t, "hi", orig.Config["message"])

	require.Nil(t, s.DuplicateNodes([]string{"missing"}))
}

func TestConnect(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	start := mustAdd(t, s, types.StepStart)
	branch := mustAdd(t, s, types.StepBranch)
	prompt := mustAdd(t, s, types.StepPrompt)
	tts := mustAdd(t, s, types.StepTTS)
	stt := mustAdd(t, s, types.StepSTTTranscribe)
	mustConnect(t, s, start.ID, types.PortOut, branch.ID, types.PortIn)

	ref := func(n types.Node, port string) types.PortRef { return types.PortRef{NodeID: n.ID, PortID: port} }

	tests := []struct {
		name string
		src  types.PortRef
		tgt  types.PortRef
		want error
	}{
		{"self connection", ref(prompt, types.PortOut), ref(prompt, types.PortIn), ErrSelfConnection},
		{"unknown source", types.PortRef{NodeID: "ghost", PortID: "out"}, ref(prompt, types.PortIn), ErrNodeNotFound},
		{"unknown target", ref(prompt, types.PortOut), types.PortRef{NodeID: "ghost", PortID: "in"}, ErrNodeNotFound},
		{"undeclared output", ref(prompt, "nope"), ref(tts, "text"), ErrPortNotFound},
		{"input used as output", ref(prompt, types.PortIn), ref(tts, "text"), ErrPortNotFound},
		{"text into audio", ref(prompt, types.PortOut), ref(stt, "audio"), ErrIncompatibleTypes},
		{"duplicate edge", ref(start, types.PortOut), ref(branch, types.PortIn), ErrDuplicateEdge},
		{"single cardinality occupied", ref(prompt, types.PortOut), ref(branch, types.PortIn), ErrPortOccupied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Connect(tc.src, tc.tgt)
			require.ErrorIs(t, err, tc.want)
			var connErr *ConnectionError
			require.ErrorAs(t, err, &connErr)
			require.Equal(t, tc.src, connErr.Source)
		})
	}
	require.Len(t, s.Edges(), 1)

	e := mustConnect(t, s, prompt.ID, types.PortOut, tts.ID, "text")
	require.Equal(t, "text", e.TargetPort)
}

func TestConnectCardinality(t *testing.T) {
	t.Parallel()

	t.Run("multiple accepts fan-in", func(t *testing.T) {
		t.Parallel()
		s := newTestStore()
		a := mustAdd(t, s, types.StepLog)
		b := mustAdd(t, s, types.StepLog)
		end := mustAdd(t, s, types.StepEnd)
		mustConnect(t, s, a.ID, types.PortOut, end.ID, types.PortIn)
		mustConnect(t, s, b.ID, types.PortOut, end.ID, types.PortIn)
		require.Len(t, s.Edges(), 2)
	})

	t.Run("pluggable rule", func(t *testing.T) {
		t.Parallel()
		single := func(types.Node, types.Port) types.Cardinality { return types.CardinalitySingle }
		s := newTestStore(WithCardinality(single))
		a := mustAdd(t, s, types.StepLog)
		b := mustAdd(t, s, types.StepLog)
		end := mustAdd(t, s, types.StepEnd)
		mustConnect(t, s, a.ID, types.PortOut, end.ID, types.PortIn)
		_, err := s.Connect(types.PortRef{NodeID: b.ID, PortID: types.PortOut}, types.PortRef{NodeID: end.ID, PortID: types.PortIn})
		require.ErrorIs(t, err, ErrPortOccupied)
	})
}

func TestDisconnectAndDeleteEdges(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	a := mustAdd(t, s, types.StepStart)
	b := mustAdd(t, s, types.StepLog)
	c := mustAdd(t, s, types.StepEnd)
	e1 := mustConnect(t, s, a.ID, types.PortOut, b.ID, types.PortIn)
	e2 := mustConnect(t, s, b.ID, types.PortOut, c.ID, types.PortIn)
	s.SetSelectedEdges([]string{e1.ID, e2.ID, "ghost"})
	require.Equal(t, []string{e1.ID, e2.ID}, s.Selection().Edges)

	require.True(t, s.Disconnect(e1.ID))
	require.False(t, s.Disconnect(e1.ID))
	require.Equal(t, []string{e2.ID}, s.Selection().Edges)

	s.DeleteEdges([]string{e2.ID, "ghost"})
	require.Empty(t, s.Edges())
	require.Len(t, s.Nodes(), 3)
}

func TestSelectionDoesNotPublish(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	a := mustAdd(t, s, types.StepLog)
	var changes int
	s.Subscribe(func(types.GraphChange) { changes++ })
	rev := s.Revision()

	s.SetSelectedNodes([]string{a.ID})
	s.SelectAll()
	require.Equal(t, []string{a.ID}, s.Selection().Nodes)
	s.ClearSelection()
	require.Empty(t, s.Selection().Nodes)

	require.Zero(t, changes)
	require.Equal(t, rev, s.Revision())
}

func TestMoveNodes(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	a := mustAdd(t, s, types.StepLog)
	var kinds []string
	s.Subscribe(func(c types.GraphChange) { kinds = append(kinds, c.Op) })

	s.MoveNodes(map[string]types.Position{a.ID: {X: 1}}, false)
	s.MoveNodes(map[string]types.Position{a.ID: {X: 2}}, false)
	require.Empty(t, kinds)

	s.MoveNodes(map[string]types.Position{a.ID: {X: 3}}, true)
	require.Equal(t, []string{"move_nodes"}, kinds)
	got, _ := s.Node(a.ID)
	require.Equal(t, 3.0, got.Position.X)
}

func TestSubscribeAndRestore(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	var got []types.GraphChange
	s.Subscribe(func(c types.GraphChange) {
		// listeners may read back into the store
		_ = s.Revision()
		got = append(got, c)
	})

	a := mustAdd(t, s, types.StepStart)
	snap := s.Snapshot()
	mustAdd(t, s, types.StepEnd)
	s.SetSelectedNodes([]string{a.ID})

	s.Restore(snap)
	require.Len(t, s.Nodes(), 1)
	require.Empty(t, s.Selection().Nodes)

	require.Len(t, got, 3)
	require.Equal(t, types.ChangeMutation, got[0].Kind)
	require.Equal(t, types.ChangeRestore, got[2].Kind)
	require.Equal(t, uint64(3), got[2].Revision)

	s.Replace([]types.Node{{ID: "x", StepType: types.StepStart}}, nil)
	require.Equal(t, types.ChangeReplace, got[3].Kind)
	require.Equal(t, "x", s.Nodes()[0].ID)

	s.Clear()
	require.Empty(t, s.Nodes())
	require.Len(t, got, 5)
}

func TestPrint(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	start := mustAdd(t, s, types.StepStart)
	branch := mustAdd(t, s, types.StepBranch)
	end := mustAdd(t, s, types.StepEnd)
	mustConnect(t, s, start.ID, types.PortOut, branch.ID, types.PortIn)
	mustConnect(t, s, branch.ID, types.PortTrue, end.ID, types.PortIn)

	var buf bytes.Buffer
	Print(&buf, s.Snapshot())
	out := buf.String()
	require.Contains(t, out, "* Start [start] (Entry)")
	require.Contains(t, out, "Start.out --> Branch.in")
	require.Contains(t, out, "Branch --[true]--> End.in")
}
