package graph

import (
	"fmt"
	"io"

	"github.com/avi3tal/stepflow/internal/types"
)

// Info represents the graph structure for visualization
type Info struct {
	Nodes []NodeInfo
	Edges []EdgeInfo
}

// NodeInfo is one node line of the rendering.
type NodeInfo struct {
	ID    string
	Label string
	Step  types.StepType
	Entry bool
}

// EdgeInfo describes an edge by label and port.
type EdgeInfo struct {
	From     string
	FromPort string
	To       string
	ToPort   string
	// Type is "direct" or, for exclusive steps such as branch, "conditional".
	Type string
}

// Describe builds an Info from a snapshot. Edges to unknown nodes keep the
// raw id.
func Describe(snap types.Snapshot) *Info {
	info := &Info{Nodes: make([]NodeInfo, 0, len(snap.Nodes))}
	labels := make(map[string]string, len(snap.Nodes))
	exclusive := make(map[string]bool)

	for _, n := range snap.Nodes {
		labels[n.ID] = n.Label
		if spec, ok := types.LookupStep(n.StepType); ok && spec.Exclusive {
			exclusive[n.ID] = true
		}
		info.Nodes = append(info.Nodes, NodeInfo{
			ID:    n.ID,
			Label: n.Label,
			Step:  n.StepType,
			Entry: n.StepType == types.StepStart,
		})
	}

	name := func(id string) string {
		if l, ok := labels[id]; ok && l != "" {
			return l
		}
		return id
	}
	for _, e := range snap.Edges {
		kind := "direct"
		if exclusive[e.Source] {
			kind = "conditional"
		}
		info.Edges = append(info.Edges, EdgeInfo{
			From:     name(e.Source),
			FromPort: e.SourcePort,
			To:       name(e.Target),
			ToPort:   e.TargetPort,
			Type:     kind,
		})
	}
	return info
}

// Print writes a plain-text rendering of the graph to w.
func Print(w io.Writer, snap types.Snapshot) {
	info := Describe(snap)

	fmt.Fprintln(w, "Graph Structure:")
	fmt.Fprintln(w, "\nNodes:")
	for _, n := range info.Nodes {
		if n.Entry {
			fmt.Fprintf(w, "  * %s [%s] (Entry)\n", n.Label, n.Step)
		} else {
			fmt.Fprintf(w, "  - %s [%s]\n", n.Label, n.Step)
		}
	}

	fmt.Fprintln(w, "\nEdges:")
	for _, e := range info.Edges {
		switch e.Type {
		case "conditional":
			fmt.Fprintf(w, "  %s --[%s]--> %s.%s\n", e.From, e.FromPort, e.To, e.ToPort)
		default:
			fmt.Fprintf(w, "  %s.%s --> %s.%s\n", e.From, e.FromPort, e.To, e.ToPort)
		}
	}
}
