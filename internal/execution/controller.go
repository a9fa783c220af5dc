// Package execution runs a validated workflow graph: it schedules nodes in
// dependency order, tracks their status and gates wait_for_human steps on a
// human response.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/internal/validate"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultMaxIterations bounds how often a loop head may be re-entered in one run.
const DefaultMaxIterations = 10

// Graph is the topology source a run is started from.
type Graph interface {
	Current() (types.Snapshot, uint64)
}

// Validations exposes the last validation result for a graph revision.
type Validations interface {
	Last(revision uint64) (validate.Result, bool)
}

// EventKind classifies controller events.
type EventKind string

const (
	EventRun      EventKind = "run"
	EventNode     EventKind = "node"
	EventOutput   EventKind = "output"
	EventApproval EventKind = "approval"
)

// Event is published after every observable state change. Listeners receive
// events one at a time in Seq order.
type Event struct {
	Seq        uint64
	Kind       EventKind
	RunID      string
	RunStatus  types.RunStatus
	NodeID     string
	NodeStatus types.NodeStatus
	Chunk      string
	Approval   *types.PendingApprovalRequest
}

// RunSnapshot is a copy of the run session for readers.
type RunSnapshot struct {
	RunID            string                                `json:"runId"`
	Status           types.RunStatus                       `json:"status"`
	Error            string                                `json:"error,omitempty"`
	StartedAt        time.Time                             `json:"startedAt,omitempty"`
	CompletedAt      time.Time                             `json:"completedAt,omitempty"`
	NodeStates       map[string]types.NodeExecutionState `json:"nodeStates"`
	PendingApproval  *types.PendingApprovalRequest         `json:"pendingApproval,omitempty"`
	PendingApprovals []types.PendingApprovalRequest        `json:"pendingApprovals,omitempty"`
}

// Err returns the run error, if any.
func (s RunSnapshot) Err() error {
	if s.Error == "" {
		return nil
	}
	return NewExecutionError("run", "", errors.New(s.Error))
}

// Option configures a Controller
type Option func(*Controller)

// WithDispatcher sets the executor dispatcher
func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) {
		c.dispatcher = d
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxIterations bounds loop re-entry per loop head
func WithMaxIterations(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithRunIDGenerator sets the generator used when StartRun gets no run id
func WithRunIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newRunID = gen
		}
	}
}

// WithRequestIDGenerator sets the generator for approval request ids
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newRequestID = gen
		}
	}
}

// Controller owns the lifecycle of a single active run.
//
// Every transition happens under one mutex. Events, executor dispatch and
// cancellation are deferred until the mutex is released, so executors and
// listeners may call straight back into the controller.
type Controller struct {
	mu         sync.Mutex
	graph      Graph
	validation Validations
	run        *run
	listeners  []func(Event)

	// flushed by unlock
	events     []Event
	tasks      []Task
	cancels    []string
	seq        uint64
	delivering bool

	dispatcher    Dispatcher
	clock         func() time.Time
	logger        *slog.Logger
	maxIterations int
	newRunID      func() string
	newRequestID  func() string
}

// New creates a controller reading its graph from g and its validation
// results from v.
func New(g Graph, v Validations, opts ...Option) *Controller {
	c := &Controller{
		graph:         g,
		validation:    v,
		clock:         time.Now,
		logger:        slog.Default(),
		maxIterations: DefaultMaxIterations,
		newRunID:      func() string { return ulid.Make().String() },
		newRequestID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn for every controller event.
func (c *Controller) Subscribe(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// StartRun starts a run of the current graph. The graph revision must have
// a validation result without errors. An empty runID gets a generated one.
func (c *Controller) StartRun(runID string) (string, error) {
	c.mu.Lock()
	defer c.unlock()

	if c.run != nil && c.run.status.Active() {
		return "", ErrRunActive
	}
	snap, rev := c.graph.Current()
	res, ok := c.validation.Last(rev)
	if !ok {
		return "", ErrNotValidated
	}
	if !res.IsValid() {
		return "", fmt.Errorf("%w: %d error(s)", ErrGraphInvalid, len(res.Errors()))
	}
	if runID == "" {
		runID = c.newRunID()
	}

	r := newRun(runID, snap.Copy(), c.clock())
	c.run = r
	c.logger.Info("run started", "run", runID, "nodes", len(r.order), "revision", rev)
	c.emit(Event{Kind: EventRun, RunID: runID, RunStatus: r.status})
	c.step(r)
	return runID, nil
}

// PauseRun stops scheduling new nodes. Running nodes may still report.
func (c *Controller) PauseRun() error {
	c.mu.Lock()
	defer c.unlock()

	r := c.run
	if r == nil || r.status.Terminal() || r.status == types.RunIdle {
		return ErrNoActiveRun
	}
	if r.paused {
		return nil
	}
	r.paused = true
	c.step(r)
	return nil
}

// ResumeRun resumes scheduling of a paused run. It is a no-op otherwise.
func (c *Controller) ResumeRun() {
	c.mu.Lock()
	defer c.unlock()

	r := c.run
	if r == nil || !r.paused || r.status.Terminal() {
		return
	}
	r.paused = false
	c.step(r)
}

// StopRun cancels every queued, running and waiting node and ends the run.
func (c *Controller) StopRun() error {
	c.mu.Lock()
	defer c.unlock()

	r := c.run
	if r == nil || r.status.Terminal() {
		return ErrNoActiveRun
	}
	now := c.clock()
	for _, id := range r.order {
		if r.states[id].Status.Active() {
			r.finish(id, types.NodeCancelled, now)
			c.nodeEvent(r, id)
		}
	}
	r.approvals = nil
	r.paused = false
	r.status = types.RunCancelled
	r.completedAt = now
	close(r.done)
	c.cancels = append(c.cancels, r.id)
	c.logger.Info("run cancelled", "run", r.id)
	c.emit(Event{Kind: EventRun, RunID: r.id, RunStatus: r.status})
	return nil
}

// ResetExecution clears a finished run and returns to idle. The graph is
// not touched.
func (c *Controller) ResetExecution() error {
	c.mu.Lock()
	defer c.unlock()

	if c.run == nil || !c.run.status.Terminal() {
		return ErrNotTerminal
	}
	c.run = nil
	c.emit(Event{Kind: EventRun, RunStatus: types.RunIdle})
	return nil
}

// Status returns the run status.
func (c *Controller) Status() types.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return types.RunIdle
	}
	return c.run.status
}

// Snapshot copies the run session.
func (c *Controller) Snapshot() RunSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() RunSnapshot {
	r := c.run
	if r == nil {
		return RunSnapshot{Status: types.RunIdle, NodeStates: map[string]types.NodeExecutionState{}}
	}
	s := RunSnapshot{
		RunID:       r.id,
		Status:      r.status,
		Error:       r.err,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
		NodeStates:  r.snapshotStates(),
	}
	if len(r.approvals) > 0 {
		s.PendingApprovals = slices.Clone(r.approvals)
		first := r.approvals[0]
		s.PendingApproval = &first
	}
	return s
}

// Wait blocks until the current run reaches a terminal status or ctx ends.
func (c *Controller) Wait(ctx context.Context) (RunSnapshot, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return c.Snapshot(), ErrNoActiveRun
	}
	select {
	case <-r.done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// step advances scheduling unless paused and re-derives the run status.
// Callers hold the lock.
func (c *Controller) step(r *run) {
	if !r.paused {
		c.advance(r)
	}
	before := r.status
	if r.aggregate(c.clock()) {
		level := slog.LevelInfo
		if r.status == types.RunFailed {
			level = slog.LevelWarn
		}
		c.logger.Log(context.Background(), level, "run finished", "run", r.id, "status", r.status, "error", r.err)
	}
	if r.status != before {
		c.emit(Event{Kind: EventRun, RunID: r.id, RunStatus: r.status})
	}
}

// advance schedules or skips idle nodes until nothing changes.
func (c *Controller) advance(r *run) {
	for changed := true; changed; {
		changed = false
		for _, id := range r.order {
			if !r.isReachable(id) || r.states[id].Status != types.NodeIdle {
				continue
			}
			switch r.readiness(id) {
			case ready:
				c.schedule(r, id)
				changed = true
			case dead:
				r.states[id].Status = types.NodeSkipped
				c.nodeEvent(r, id)
				changed = true
			}
		}
	}
}

func (c *Controller) schedule(r *run, id string) {
	node := r.nodes[id]
	st := r.states[id]
	inputs := r.inputs(id)
	st.StartedAt = c.clock()
	st.Status = types.NodeQueued
	c.nodeEvent(r, id)

	spec, _ := types.LookupStep(node.StepType)
	switch {
	case node.StepType == types.StepWaitForHuman:
		c.requestApproval(r, node, inputs)
	case spec.Builtin:
		c.succeed(r, id, Outcome{Output: passThrough(inputs)})
	default:
		st.Status = types.NodeRunning
		c.nodeEvent(r, id)
		c.tasks = append(c.tasks, Task{RunID: r.id, Node: node.Clone(), Inputs: inputs})
	}
}

func (c *Controller) succeed(r *run, id string, out Outcome) {
	st := r.finish(id, types.NodeSuccess, c.clock())
	st.Output = out.Output
	st.ActivePort = out.ActivePort
	c.nodeEvent(r, id)

	for _, reset := range r.reenter(id, c.maxIterations) {
		c.nodeEvent(r, reset)
	}
}

func (c *Controller) fail(r *run, id string, err error) {
	st := r.finish(id, types.NodeFailed, c.clock())
	st.Error = err.Error()
	c.logger.Warn("node failed", "run", r.id, "node", id, "error", err)
	c.nodeEvent(r, id)
}

func (c *Controller) nodeEvent(r *run, id string) {
	c.emit(Event{Kind: EventNode, RunID: r.id, RunStatus: r.status, NodeID: id, NodeStatus: r.states[id].Status})
}

func (c *Controller) emit(ev Event) {
	c.seq++
	ev.Seq = c.seq
	c.events = append(c.events, ev)
}

// unlock releases the mutex, then delivers buffered events, cancellations
// and executor tasks.
func (c *Controller) unlock() {
	tasks, cancels := c.tasks, c.cancels
	c.tasks, c.cancels = nil, nil
	drain := len(c.events) > 0 && !c.delivering
	if drain {
		c.delivering = true
	}
	c.mu.Unlock()

	if drain {
		c.deliver()
	}
	for _, id := range cancels {
		if c.dispatcher != nil {
			c.dispatcher.Cancel(id)
		}
	}
	for _, task := range tasks {
		if c.dispatcher == nil {
			c.ReportFailure(task.RunID, task.Node.ID, ErrNoDispatcher)
			continue
		}
		c.dispatcher.Dispatch(task, c)
	}
}

// deliver hands queued events to the listeners until the queue is empty.
// Only one goroutine delivers at a time; events queued meanwhile, including
// by listeners calling back into the controller, are picked up by it.
func (c *Controller) deliver() {
	for {
		c.mu.Lock()
		events := c.events
		c.events = nil
		if len(events) == 0 {
			c.delivering = false
			c.mu.Unlock()
			return
		}
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()

		for _, ev := range events {
			for _, fn := range listeners {
				fn(ev)
			}
		}
	}
}

// passThrough forwards upstream data through built-in steps.
func passThrough(inputs []Input) any {
	switch len(inputs) {
	case 0:
		return nil
	case 1:
		return inputs[0].Value
	}
	merged := make(map[string]any, len(inputs))
	for _, in := range inputs {
		merged[in.Source] = in.Value
	}
	return merged
}
