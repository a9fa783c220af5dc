package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/internal/validate"
)

// run is one execution attempt over a frozen copy of the graph. All fields
// are guarded by the controller mutex.
type run struct {
	id          string
	status      types.RunStatus
	paused      bool
	err         string
	loopErr     string
	startedAt   time.Time
	completedAt time.Time
	done        chan struct{}

	start     string
	order     []string
	nodes     map[string]types.Node
	reachable map[string]struct{}
	// incoming holds the forward edges of each node whose source is reachable
	incoming map[string][]types.Edge
	// loops holds the back edges leaving each node
	loops      map[string][]types.Edge
	forward    map[string][]string
	iterations map[string]int
	// carried holds values delivered over back edges to the next iteration
	carried map[string][]Input

	states    map[string]*types.NodeExecutionState
	approvals []types.PendingApprovalRequest
}

type readiness int

const (
	waiting readiness = iota
	ready
	dead
)

func newRun(id string, snap types.Snapshot, now time.Time) *run {
	r := &run{
		id:         id,
		status:     types.RunRunning,
		startedAt:  now,
		done:       make(chan struct{}),
		nodes:      make(map[string]types.Node, len(snap.Nodes)),
		incoming:   make(map[string][]types.Edge),
		loops:      make(map[string][]types.Edge),
		forward:    make(map[string][]string),
		iterations: make(map[string]int),
		carried:    make(map[string][]Input),
		states:     make(map[string]*types.NodeExecutionState, len(snap.Nodes)),
	}
	for _, n := range snap.Nodes {
		r.nodes[n.ID] = n
		r.order = append(r.order, n.ID)
		r.states[n.ID] = &types.NodeExecutionState{Status: types.NodeIdle}
		if n.StepType == types.StepStart && r.start == "" {
			r.start = n.ID
		}
	}
	r.reachable = validate.Reachable(snap.Nodes, snap.Edges, r.start)

	back := r.backEdges(snap.Edges)
	for _, e := range snap.Edges {
		_, srcOK := r.reachable[e.Source]
		_, tgtOK := r.nodes[e.Target]
		if !srcOK || !tgtOK {
			continue
		}
		if _, isBack := back[e.ID]; isBack {
			r.loops[e.Source] = append(r.loops[e.Source], e)
			continue
		}
		r.incoming[e.Target] = append(r.incoming[e.Target], e)
		r.forward[e.Source] = append(r.forward[e.Source], e.Target)
	}
	return r
}

// backEdges finds the edges that close a cycle during a depth-first walk
// from the start node. They re-enter loops instead of gating readiness.
func (r *run) backEdges(edges []types.Edge) map[string]struct{} {
	out := make(map[string][]types.Edge)
	for _, e := range edges {
		if _, ok := r.nodes[e.Target]; ok {
			out[e.Source] = append(out[e.Source], e)
		}
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(r.nodes))
	back := make(map[string]struct{})

	type frame struct {
		id   string
		next int
	}
	if r.start == "" {
		return back
	}
	stack := []frame{{id: r.start}}
	color[r.start] = gray
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(out[top.id]) {
			color[top.id] = black
			stack = stack[:len(stack)-1]
			continue
		}
		e := out[top.id][top.next]
		top.next++
		switch color[e.Target] {
		case gray:
			back[e.ID] = struct{}{}
		case white:
			color[e.Target] = gray
			stack = append(stack, frame{id: e.Target})
		}
	}
	return back
}

func (r *run) isReachable(id string) bool {
	_, ok := r.reachable[id]
	return ok
}

func (r *run) edgeState(e types.Edge) readiness {
	src := r.states[e.Source]
	switch src.Status {
	case types.NodeSuccess:
		if portActive(r.nodes[e.Source], src.ActivePort, e.SourcePort) {
			return ready
		}
		return dead
	case types.NodeFailed, types.NodeSkipped, types.NodeCancelled:
		return dead
	default:
		return waiting
	}
}

// portActive reports whether a succeeded node emits on port. Exclusive steps
// emit only on their active port; every other step emits on all ports.
func portActive(n types.Node, activePort, port string) bool {
	spec, ok := types.LookupStep(n.StepType)
	if !ok || !spec.Exclusive {
		return true
	}
	return activePort == port
}

// readiness decides whether an idle node can be scheduled: it waits while
// any incoming edge is undecided, runs when at least one edge delivered and
// is skipped when every edge is dead.
func (r *run) readiness(id string) readiness {
	edges := r.incoming[id]
	if len(edges) == 0 {
		return ready
	}
	satisfied := false
	for _, e := range edges {
		switch r.edgeState(e) {
		case waiting:
			return waiting
		case ready:
			satisfied = true
		}
	}
	if satisfied {
		return ready
	}
	return dead
}

// inputs collects the outputs delivered to id over satisfied edges,
// followed by any value carried into a loop head by a back edge. Carried
// values are consumed.
func (r *run) inputs(id string) []Input {
	var in []Input
	defer delete(r.carried, id)
	for _, e := range r.incoming[id] {
		if r.edgeState(e) != ready {
			continue
		}
		in = append(in, Input{Port: e.TargetPort, Source: e.Source, Value: r.states[e.Source].Output})
	}
	return append(in, r.carried[id]...)
}

// reenter fires the satisfied back edges leaving id. Every settled node
// forward-reachable from a loop head is reset to idle so the next iteration
// schedules it again.
func (r *run) reenter(id string, maxIterations int) []string {
	var reset []string
	st := r.states[id]
	for _, e := range r.loops[id] {
		if !portActive(r.nodes[id], st.ActivePort, e.SourcePort) {
			continue
		}
		head := e.Target
		if r.iterations[head] >= maxIterations {
			r.loopErr = fmt.Sprintf("loop at %q exceeded %d iterations", head, maxIterations)
			continue
		}
		r.iterations[head]++
		r.carried[head] = append(r.carried[head], Input{Port: e.TargetPort, Source: id, Value: st.Output})

		seen := map[string]struct{}{head: {}}
		queue := []string{head}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if s := r.states[cur]; !s.Status.Active() {
				*s = types.NodeExecutionState{Status: types.NodeIdle}
				reset = append(reset, cur)
			}
			for _, next := range r.forward[cur] {
				if _, ok := seen[next]; !ok {
					seen[next] = struct{}{}
					queue = append(queue, next)
				}
			}
		}
	}
	return reset
}

// aggregate derives the run status from the node states. It reports whether
// the run just became terminal.
func (r *run) aggregate(now time.Time) bool {
	if r.status.Terminal() {
		return false
	}
	active, blocked := false, false
	for id := range r.reachable {
		switch r.states[id].Status {
		case types.NodeQueued, types.NodeRunning:
			active = true
		case types.NodeWaitingHuman:
			blocked = true
		}
	}

	switch {
	case r.paused:
		r.status = types.RunPaused
		return false
	case active:
		r.status = types.RunRunning
		return false
	case blocked:
		r.status = types.RunWaitingHuman
		return false
	}

	failed, endOK := "", false
	for _, id := range r.order {
		if !r.isReachable(id) {
			continue
		}
		st := r.states[id]
		// a node the executor cancelled did not succeed either
		if (st.Status == types.NodeFailed || st.Status == types.NodeCancelled) && failed == "" {
			failed = id
		}
		if st.Status == types.NodeSuccess && r.nodes[id].StepType == types.StepEnd {
			endOK = true
		}
	}

	switch {
	case r.loopErr != "":
		r.status = types.RunFailed
		r.err = r.loopErr
	case failed == "" || endOK:
		r.status = types.RunCompleted
	default:
		r.status = types.RunFailed
		r.err = NewExecutionError("node", failed, errors.New(r.states[failed].Error)).Error()
	}
	r.completedAt = now
	close(r.done)
	return true
}

// finish marks a node terminal and records its duration.
func (r *run) finish(id string, status types.NodeStatus, now time.Time) *types.NodeExecutionState {
	st := r.states[id]
	st.Status = status
	if !st.StartedAt.IsZero() {
		st.DurationMs = now.Sub(st.StartedAt).Milliseconds()
	}
	return st
}

func (r *run) snapshotStates() map[string]types.NodeExecutionState {
	out := make(map[string]types.NodeExecutionState, len(r.states))
	for id, st := range r.states {
		out[id] = *st
	}
	return out
}
