package execution

import (
	"errors"

	"github.com/avi3tal/stepflow/internal/types"
)

// Input is one upstream output delivered to a node.
type Input struct {
	Port   string
	Source string
	Value  any
}

// Task is handed to a step executor when a node starts running.
type Task struct {
	RunID  string
	Node   types.Node
	Inputs []Input
}

// Outcome is what an executor reports on success. Exclusive steps such as
// branch must name the output port they activated.
type Outcome struct {
	ActivePort string
	Output     any
}

// Reporter receives executor callbacks. Every method is keyed by run id;
// callbacks for another run, a finished run or a node that is no longer
// running are dropped and reported as false.
type Reporter interface {
	ReportSuccess(runID, nodeID string, out Outcome) bool
	ReportFailure(runID, nodeID string, err error) bool
	ReportCancelled(runID, nodeID string) bool
	AppendOutput(runID, nodeID, chunk string) bool
}

// Dispatcher runs step executors. Dispatch must not block on the step
// itself; results come back through the reporter, possibly from another
// goroutine.
type Dispatcher interface {
	Dispatch(task Task, reporter Reporter)
	// Cancel is called once when a run is stopped.
	Cancel(runID string)
}

var _ Reporter = (*Controller)(nil)

// ReportSuccess completes a running node.
func (c *Controller) ReportSuccess(runID, nodeID string, out Outcome) bool {
	c.mu.Lock()
	defer c.unlock()
	r, ok := c.running(runID, nodeID)
	if !ok {
		return false
	}
	node := r.nodes[nodeID]
	if spec, _ := types.LookupStep(node.StepType); spec.Exclusive {
		if _, ok := spec.Output(out.ActivePort); !ok {
			c.fail(r, nodeID, errors.New("step did not activate a declared output port"))
			c.step(r)
			return true
		}
	} else {
		out.ActivePort = ""
	}
	c.succeed(r, nodeID, out)
	c.step(r)
	return true
}

// ReportFailure fails a running node with err.
func (c *Controller) ReportFailure(runID, nodeID string, err error) bool {
	c.mu.Lock()
	defer c.unlock()
	r, ok := c.running(runID, nodeID)
	if !ok {
		return false
	}
	if err == nil {
		err = errors.New("step failed")
	}
	c.fail(r, nodeID, err)
	c.step(r)
	return true
}

// ReportCancelled records that the executor gave up on a running node.
func (c *Controller) ReportCancelled(runID, nodeID string) bool {
	c.mu.Lock()
	defer c.unlock()
	r, ok := c.running(runID, nodeID)
	if !ok {
		return false
	}
	r.finish(nodeID, types.NodeCancelled, c.clock()).Error = ErrStepCancelled.Error()
	c.nodeEvent(r, nodeID)
	c.step(r)
	return true
}

// AppendOutput appends a streamed chunk to a running node's output.
func (c *Controller) AppendOutput(runID, nodeID, chunk string) bool {
	c.mu.Lock()
	defer c.unlock()
	r, ok := c.running(runID, nodeID)
	if !ok {
		return false
	}
	r.states[nodeID].StreamingOutput += chunk
	c.emit(Event{Kind: EventOutput, RunID: r.id, NodeID: nodeID, NodeStatus: types.NodeRunning, Chunk: chunk})
	return true
}

// running resolves the run and checks that nodeID is running in it. Callers
// hold the lock.
func (c *Controller) running(runID, nodeID string) (*run, bool) {
	r := c.run
	if r == nil || r.id != runID || r.status.Terminal() {
		c.logger.Debug("stale executor callback dropped", "run", runID, "node", nodeID)
		return nil, false
	}
	st, ok := r.states[nodeID]
	if !ok || st.Status != types.NodeRunning {
		c.logger.Debug("callback for node that is not running", "run", runID, "node", nodeID)
		return nil, false
	}
	return r, true
}
