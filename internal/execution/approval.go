package execution

import (
	"errors"
	"fmt"
	"slices"

	"github.com/avi3tal/stepflow/internal/types"
)

const defaultRejectReason = "rejected by reviewer"

// requestApproval parks a wait_for_human node until RespondToApproval is
// called. Callers hold the lock.
func (c *Controller) requestApproval(r *run, node types.Node, inputs []Input) {
	msg, _ := node.Config["message"].(string)
	if msg == "" {
		msg = node.Label
	}
	req := types.PendingApprovalRequest{
		ID:            c.newRequestID(),
		NodeID:        node.ID,
		PromptMessage: msg,
		DataToReview:  reviewData(inputs),
		CreatedAt:     c.clock(),
	}
	r.states[node.ID].Status = types.NodeWaitingHuman
	r.approvals = append(r.approvals, req)
	c.nodeEvent(r, node.ID)
	c.emit(Event{Kind: EventApproval, RunID: r.id, NodeID: node.ID, NodeStatus: types.NodeWaitingHuman, Approval: &req})
	c.logger.Info("approval requested", "run", r.id, "node", node.ID, "request", req.ID)
}

// RespondToApproval resolves a pending request. Approving succeeds the node
// and unblocks its downstream; rejecting fails it with the given reason.
// Unknown or already resolved requests leave the state unchanged.
func (c *Controller) RespondToApproval(resp types.ApprovalResponse) error {
	if resp.Action != types.ApprovalApprove && resp.Action != types.ApprovalReject {
		return fmt.Errorf("%w: %q", ErrInvalidAction, resp.Action)
	}

	c.mu.Lock()
	defer c.unlock()

	r := c.run
	if r == nil || r.status.Terminal() {
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, resp.RequestID)
	}
	i := slices.IndexFunc(r.approvals, func(a types.PendingApprovalRequest) bool { return a.ID == resp.RequestID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, resp.RequestID)
	}
	req := r.approvals[i]
	r.approvals = slices.Delete(slices.Clone(r.approvals), i, i+1)

	c.logger.Info("approval resolved", "run", r.id, "node", req.NodeID, "action", resp.Action)
	if resp.Action == types.ApprovalApprove {
		c.succeed(r, req.NodeID, Outcome{Output: req.DataToReview})
	} else {
		reason := resp.Reason
		if reason == "" {
			reason = defaultRejectReason
		}
		c.fail(r, req.NodeID, errors.New(reason))
	}
	c.step(r)
	return nil
}

// PendingApproval returns the oldest unresolved request, or nil.
func (c *Controller) PendingApproval() *types.PendingApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil || len(c.run.approvals) == 0 {
		return nil
	}
	req := c.run.approvals[0]
	return &req
}

// PendingApprovals returns every unresolved request, oldest first.
func (c *Controller) PendingApprovals() []types.PendingApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return slices.Clone(c.run.approvals)
}

func reviewData(inputs []Input) any {
	if len(inputs) == 0 {
		return nil
	}
	data := make(map[string]any, len(inputs))
	for _, in := range inputs {
		data[in.Source] = in.Value
	}
	return data
}
