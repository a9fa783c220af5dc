// Package workflow is the public entry point of the engine. An Engine owns
// one workflow document: its graph, undo history, validation and runs.
package workflow

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/avi3tal/stepflow/internal/checkpoints"
	"github.com/avi3tal/stepflow/internal/config"
	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/executors"
	"github.com/avi3tal/stepflow/internal/graph"
	"github.com/avi3tal/stepflow/internal/history"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/internal/validate"
)

// Approver answers approval requests during Run. The request id of the
// returned response is filled in by the engine.
type Approver func(ctx context.Context, req types.PendingApprovalRequest) types.ApprovalResponse

// AutoApprove approves every request.
func AutoApprove(context.Context, types.PendingApprovalRequest) types.ApprovalResponse {
	return types.ApprovalResponse{Action: types.ApprovalApprove}
}

// Engine is an isolated workflow document with its editing, validation and
// execution machinery. Engines share no state.
type Engine struct {
	mu          sync.Mutex
	name        string
	description string
	revision    types.Revision

	graph      *graph.Store
	history    *history.Manager
	validator  *validate.Validator
	controller *execution.Controller
	pool       *executors.Pool
	cancel     context.CancelFunc
	archive    *checkpoints.Recorder
	archived   string // last run handed to the archive

	// signalled on approval and run status events
	changed chan struct{}
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates an empty engine named name.
func New(name string, opts ...Option) (*Engine, error) {
	o := options{cfg: config.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "new engine")
	}
	if o.logger == nil {
		o.logger = ctxlog.New(os.Stderr, o.cfg.LogLevel)
	}
	logger := o.logger.With("workflow", name)

	e := &Engine{
		name:    name,
		changed: make(chan struct{}, 1),
		clock:   o.clock,
		logger:  logger,
	}

	e.graph = graph.New(
		graph.WithDuplicateOffset(types.Position{X: o.cfg.Graph.DuplicateOffsetX, Y: o.cfg.Graph.DuplicateOffsetY}),
		graph.WithIDGenerator(o.newID),
		graph.WithLogger(logger),
	)
	e.history = history.New(e.graph, history.WithLimit(o.cfg.History.Limit), history.WithLogger(logger))
	e.validator = validate.New(logger)
	e.graph.Subscribe(func(types.GraphChange) { e.validator.Invalidate() })

	dispatcher := o.dispatcher
	if dispatcher == nil {
		registry := o.registry
		if registry == nil {
			registry = executors.Defaults(o.model)
		}
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.pool = executors.NewPool(ctx, registry,
			executors.WithMaxConcurrency(o.cfg.Executors.MaxConcurrency),
			executors.WithRetryPolicy(executors.RetryPolicy{
				MaxAttempts: o.cfg.Executors.Retry.MaxAttempts,
				Delay:       o.cfg.Executors.Retry.Delay,
			}),
			executors.WithPoolLogger(logger),
		)
		dispatcher = e.pool
	}

	e.controller = execution.New(e.graph, e.validator,
		execution.WithDispatcher(dispatcher),
		execution.WithLogger(logger),
		execution.WithMaxIterations(o.cfg.Run.MaxIterations),
		execution.WithClock(o.clock),
	)
	e.controller.Subscribe(e.onRunEvent)

	store := o.store
	if store == nil {
		store = checkpoints.NewMemoryStore()
	}
	e.archive = checkpoints.NewRecorder(name, store, o.clock)
	return e, nil
}

func (e *Engine) record(snap execution.RunSnapshot) {
	if err := e.archive.Record(context.Background(), snap); err != nil {
		e.logger.Warn("run not archived", "run", snap.RunID, "error", err)
	}
	e.mu.Lock()
	e.archived = snap.RunID
	e.mu.Unlock()
}

func (e *Engine) isArchived(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.archived == runID
}

func (e *Engine) onRunEvent(ev execution.Event) {
	if ev.Kind != execution.EventRun && ev.Kind != execution.EventApproval {
		return
	}
	if ev.Kind == execution.EventRun && ev.RunStatus.Terminal() {
		if e.pool != nil {
			e.pool.Cancel(ev.RunID)
		}
		if snap := e.controller.Snapshot(); snap.RunID == ev.RunID {
			e.record(snap)
		}
	}
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// Close stops any active run and waits for running steps to return.
func (e *Engine) Close() {
	if err := e.controller.StopRun(); err == nil {
		e.logger.Info("active run stopped on close")
	}
	if e.pool != nil {
		e.cancel()
		e.pool.Close()
	}
}

func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// SetDescription updates the document description.
func (e *Engine) SetDescription(desc string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.description = desc
}

// ---------------------------------------------------------------------------
// Graph editing
// ---------------------------------------------------------------------------

func (e *Engine) AddNode(stepType types.StepType, pos types.Position) (types.Node, error) {
	n, err := e.graph.AddNode(stepType, pos)
	if err != nil {
		return types.Node{}, errors.Wrap(err, "add node")
	}
	return n, nil
}

func (e *Engine) UpdateNode(id string, update graph.NodeUpdate) bool {
	return e.graph.UpdateNode(id, update)
}

func (e *Engine) DeleteNodes(ids ...string) { e.graph.DeleteNodes(ids) }

func (e *Engine) DeleteEdges(ids ...string) { e.graph.DeleteEdges(ids) }

func (e *Engine) Disconnect(edgeID string) bool { return e.graph.Disconnect(edgeID) }

func (e *Engine) DuplicateNodes(ids ...string) []types.Node { return e.graph.DuplicateNodes(ids) }

// Connect links an output port to an input port. Rejections wrap a
// *graph.ConnectionError.
func (e *Engine) Connect(source, target types.PortRef) (types.Edge, error) {
	edge, err := e.graph.Connect(source, target)
	if err != nil {
		return types.Edge{}, errors.Wrap(err, "connect")
	}
	return edge, nil
}

// MoveNodes stores canvas positions. Only a final move is recorded in
// history.
func (e *Engine) MoveNodes(positions map[string]types.Position, final bool) {
	e.graph.MoveNodes(positions, final)
}

func (e *Engine) Clear() { e.graph.Clear() }

func (e *Engine) Nodes() []types.Node { return e.graph.Nodes() }

func (e *Engine) Edges() []types.Edge { return e.graph.Edges() }

func (e *Engine) Node(id string) (types.Node, bool) { return e.graph.Node(id) }

func (e *Engine) Snapshot() types.Snapshot { return e.graph.Snapshot() }

// Subscribe registers fn for every graph change.
func (e *Engine) Subscribe(fn func(types.GraphChange)) { e.graph.Subscribe(fn) }

func (e *Engine) SetSelectedNodes(ids ...string) { e.graph.SetSelectedNodes(ids) }

func (e *Engine) SetSelectedEdges(ids ...string) { e.graph.SetSelectedEdges(ids) }

func (e *Engine) SelectAll() { e.graph.SelectAll() }

func (e *Engine) ClearSelection() { e.graph.ClearSelection() }

func (e *Engine) Selection() graph.Selection { return e.graph.Selection() }

// DeleteSelection removes the selected nodes and edges in one step each.
func (e *Engine) DeleteSelection() {
	sel := e.graph.Selection()
	if len(sel.Edges) > 0 {
		e.graph.DeleteEdges(sel.Edges)
	}
	if len(sel.Nodes) > 0 {
		e.graph.DeleteNodes(sel.Nodes)
	}
}

// Print writes a text rendering of the graph to w.
func (e *Engine) Print(w io.Writer) { graph.Print(w, e.graph.Snapshot()) }

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (e *Engine) Undo() bool { return e.history.Undo() }

func (e *Engine) Redo() bool { return e.history.Redo() }

func (e *Engine) CanUndo() bool { return e.history.CanUndo() }

func (e *Engine) CanRedo() bool { return e.history.CanRedo() }

// ---------------------------------------------------------------------------
// Validation and execution
// ---------------------------------------------------------------------------

// Validate checks the current graph. Results are cached per revision.
func (e *Engine) Validate() validate.Result { return e.validator.Validate(e.graph) }

// StartRun validates the current graph and starts a run of it.
func (e *Engine) StartRun(runID string) (string, error) {
	if res := e.Validate(); !res.IsValid() {
		for _, issue := range res.Errors() {
			e.logger.Warn("validation error", "issue", issue.ID, "message", issue.Message)
		}
	}
	id, err := e.controller.StartRun(runID)
	if err != nil {
		return "", errors.Wrap(err, "start run")
	}
	return id, nil
}

func (e *Engine) PauseRun() error {
	return errors.Wrap(e.controller.PauseRun(), "pause run")
}

func (e *Engine) ResumeRun() { e.controller.ResumeRun() }

func (e *Engine) StopRun() error {
	return errors.Wrap(e.controller.StopRun(), "stop run")
}

func (e *Engine) ResetExecution() error {
	return errors.Wrap(e.controller.ResetExecution(), "reset execution")
}

func (e *Engine) RespondToApproval(resp types.ApprovalResponse) error {
	return errors.Wrapf(e.controller.RespondToApproval(resp), "respond to %s", resp.RequestID)
}

func (e *Engine) PendingApproval() *types.PendingApprovalRequest { return e.controller.PendingApproval() }

func (e *Engine) PendingApprovals() []types.PendingApprovalRequest {
	return e.controller.PendingApprovals()
}

func (e *Engine) RunStatus() types.RunStatus { return e.controller.Status() }

func (e *Engine) RunSnapshot() execution.RunSnapshot { return e.controller.Snapshot() }

// SubscribeRun registers fn for every run event.
func (e *Engine) SubscribeRun(fn func(execution.Event)) { e.controller.Subscribe(fn) }

// Wait blocks until the current run is terminal or ctx ends.
func (e *Engine) Wait(ctx context.Context) (execution.RunSnapshot, error) {
	return e.controller.Wait(ctx)
}

// Runs lists the archived finished runs, oldest first.
func (e *Engine) Runs(ctx context.Context) ([]checkpoints.Checkpoint, error) {
	runs, err := e.archive.List(ctx)
	return runs, errors.Wrap(err, "list runs")
}

// LoadRun returns the archived snapshot of a finished run.
func (e *Engine) LoadRun(ctx context.Context, runID string) (execution.RunSnapshot, error) {
	snap, err := e.archive.Load(ctx, runID)
	return snap, errors.Wrap(err, "load run")
}

// Run starts a run and drives it to a terminal status, answering approval
// requests with approve. It returns once the finished run is archived.
// With a nil approve the run stays gated until ctx ends. When ctx ends first
// the run is stopped.
func (e *Engine) Run(ctx context.Context, runID string, approve Approver) (execution.RunSnapshot, error) {
	id, err := e.StartRun(runID)
	if err != nil {
		return execution.RunSnapshot{}, err
	}
	for {
		snap := e.controller.Snapshot()
		if snap.RunID != id {
			return snap, errors.Wrapf(execution.ErrNoActiveRun, "run %s replaced", id)
		}
		if snap.Status.Terminal() && e.isArchived(id) {
			return snap, snap.Err()
		}
		if req := snap.PendingApproval; req != nil && approve != nil && !snap.Status.Terminal() {
			resp := approve(ctx, *req)
			resp.RequestID = req.ID
			err := e.controller.RespondToApproval(resp)
			if err != nil && !errors.Is(err, execution.ErrApprovalNotFound) {
				return snap, errors.Wrap(err, "run")
			}
			continue
		}
		select {
		case <-e.changed:
		case <-ctx.Done():
			_ = e.controller.StopRun()
			return e.controller.Snapshot(), errors.Wrap(ctx.Err(), "run")
		}
	}
}
