package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/executors"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/pkg/workflow"
)

// Flow:
//	1. Drafter writes a reply and streams it word by word.
//	2. The review gate parks the run until a human answers.
//	3. Approved drafts reach the sender; the run completes.

func drafter(_ context.Context, task execution.Task, stream executors.StreamFunc) (execution.Outcome, error) {
	reply := "Thanks for reaching out, your refund is on its way."
	for _, word := range strings.SplitAfter(reply, " ") {
		stream(word)
	}
	return execution.Outcome{Output: reply}, nil
}

func main() {
	registry := executors.Defaults(nil).
		Register(types.StepPrompt, executors.Func(drafter))

	e, err := workflow.NewBuilder("pending-approval").
		Start().
		Then(workflow.Step(types.StepPrompt, "Drafter", map[string]any{"prompt": "Reply to {{.input}}"})).
		Approve("Send this reply?").
		Then(workflow.Step(types.StepLog, "Sender", map[string]any{"message": "reply sent"})).
		End().
		Load(
			workflow.WithRegistry(registry),
			workflow.WithLogger(ctxlog.New(os.Stderr, "info")),
		)
	if err != nil {
		fmt.Println("Error building the workflow:", err)
		return
	}
	defer e.Close()

	e.Print(os.Stdout)

	e.SubscribeRun(func(ev execution.Event) {
		switch ev.Kind {
		case execution.EventOutput:
			fmt.Print(ev.Chunk)
		case execution.EventApproval:
			fmt.Printf("\n\tapproval requested: %s\n", ev.Approval.PromptMessage)
		}
	})

	if _, err := e.StartRun("thread-1"); err != nil {
		fmt.Println("Run error:", err)
		return
	}

	// first pass stops at the gate
	for e.PendingApproval() == nil && !e.RunStatus().Terminal() {
		time.Sleep(10 * time.Millisecond)
	}
	req := e.PendingApproval()
	if req == nil {
		fmt.Println("Run ended before review:", e.RunStatus())
		return
	}
	fmt.Printf("\tstatus: %s, reviewing %v\n", e.RunStatus(), req.DataToReview)

	if err := e.RespondToApproval(types.ApprovalResponse{RequestID: req.ID, Action: types.ApprovalApprove}); err != nil {
		fmt.Println("Approval error:", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := e.Wait(ctx)
	if err != nil {
		fmt.Println("Wait error:", err)
		return
	}
	fmt.Println("Final status:", snap.Status)
}
