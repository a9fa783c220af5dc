package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/executors"
	"github.com/avi3tal/stepflow/internal/graph"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/pkg/workflow"
)

// Flow:
//	1. Incrementer adds one to the value carried back into it.
//	2. The branch loops back while the value is below 5.
//	3. Printer logs the final value and the run ends.

func increment(_ context.Context, task execution.Task, _ executors.StreamFunc) (execution.Outcome, error) {
	value := 0
	for _, in := range task.Inputs {
		if v, ok := in.Value.(int); ok && v > value {
			value = v
		}
	}
	return execution.Outcome{Output: value + 1}, nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func main() {
	registry := executors.Defaults(nil).Register(types.StepWebhook, executors.Func(increment))
	e := must(workflow.New("loop-while-demo", workflow.WithRegistry(registry), workflow.WithLogger(ctxlog.Discard())))
	defer e.Close()

	label := func(n types.Node, l string) string {
		e.UpdateNode(n.ID, graph.NodeUpdate{Label: &l})
		return n.ID
	}
	port := func(id, p string) types.PortRef { return types.PortRef{NodeID: id, PortID: p} }

	start := must(e.AddNode(types.StepStart, types.Position{}))
	incr := label(must(e.AddNode(types.StepWebhook, types.Position{X: 240})), "Incrementer")
	e.UpdateNode(incr, graph.NodeUpdate{Config: map[string]any{"url": "local://increment"}})
	gate := must(e.AddNode(types.StepBranch, types.Position{X: 480}))
	e.UpdateNode(gate.ID, graph.NodeUpdate{Config: map[string]any{"condition": "input < 5"}})
	printer := label(must(e.AddNode(types.StepLog, types.Position{X: 720})), "Printer")
	end := must(e.AddNode(types.StepEnd, types.Position{X: 960}))

	must(e.Connect(port(start.ID, types.PortOut), port(incr, types.PortIn)))
	must(e.Connect(port(incr, "response"), port(gate.ID, types.PortIn)))
	must(e.Connect(port(gate.ID, types.PortTrue), port(incr, types.PortIn)))
	must(e.Connect(port(gate.ID, types.PortFalse), port(printer, types.PortIn)))
	must(e.Connect(port(printer, types.PortOut), port(end.ID, types.PortIn)))

	e.Print(os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := e.Run(ctx, "", nil)
	if err != nil {
		fmt.Println("Run error:", err)
		return
	}
	fmt.Println("Final Value:", snap.NodeStates[printer].Output)
}
