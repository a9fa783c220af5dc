package types

import "fmt"

// StepType is the closed category of a node. It determines the node's ports
// and config schema.
type StepType string

const (
	StepPrompt        StepType = "prompt"
	StepRAGSearch     StepType = "rag_search"
	StepMediaIngest   StepType = "media_ingest"
	StepBranch        StepType = "branch"
	StepMap           StepType = "map"
	StepWaitForHuman  StepType = "wait_for_human"
	StepWebhook       StepType = "webhook"
	StepTTS           StepType = "tts"
	StepSTTTranscribe StepType = "stt_transcribe"
	StepDelay         StepType = "delay"
	StepLog           StepType = "log"
	StepStart         StepType = "start"
	StepEnd           StepType = "end"
)

// Position is owned by the canvas. The engine stores it and never reads it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Add returns p shifted by o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}

// Node is a single step of a workflow.
//
// Node values held by the graph store are never mutated in place: every
// update produces a new value, which lets history snapshots share them.
type Node struct {
	ID       string         `json:"id" yaml:"id"`
	StepType StepType       `json:"stepType" yaml:"stepType"`
	Label    string         `json:"label" yaml:"label"`
	Config   map[string]any `json:"config" yaml:"config"`
	Position Position       `json:"position" yaml:"position"`
}

// Clone returns a copy of the node with its own config map.
func (n Node) Clone() Node {
	n.Config = CloneConfig(n.Config)
	return n
}

// Edge connects an output port of one node to an input port of another.
type Edge struct {
	ID         string `json:"id" yaml:"id"`
	Source     string `json:"source" yaml:"source"`
	SourcePort string `json:"sourcePort" yaml:"sourcePort"`
	Target     string `json:"target" yaml:"target"`
	TargetPort string `json:"targetPort" yaml:"targetPort"`
}

// Touches reports whether the edge has nodeID as either endpoint.
func (e Edge) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// PortRef addresses one port of one node.
type PortRef struct {
	NodeID string
	PortID string
}

// SourceRef returns the source endpoint of the edge.
func (e Edge) SourceRef() PortRef { return PortRef{NodeID: e.Source, PortID: e.SourcePort} }

// TargetRef returns the target endpoint of the edge.
func (e Edge) TargetRef() PortRef { return PortRef{NodeID: e.Target, PortID: e.TargetPort} }

// Snapshot is an immutable view of the graph topology at one point in time.
// Node values are shared between snapshots and must be treated as read-only.
type Snapshot struct {
	Nodes []Node
	Edges []Edge
}

// Copy returns a snapshot backed by fresh slices. Node values are shared.
func (s Snapshot) Copy() Snapshot {
	return Snapshot{
		Nodes: append([]Node(nil), s.Nodes...),
		Edges: append([]Edge(nil), s.Edges...),
	}
}

// ChangeKind tells subscribers why the graph changed.
type ChangeKind int

const (
	// ChangeMutation is a user-level structural edit that belongs in history.
	ChangeMutation ChangeKind = iota
	// ChangeRestore is a history undo/redo.
	ChangeRestore
	// ChangeReplace is a wholesale replacement such as a document load.
	ChangeReplace
)

var changeKindNames = [...]string{"mutation", "restore", "replace"}

func (k ChangeKind) String() string {
	if k < 0 || int(k) >= len(changeKindNames) {
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
	return changeKindNames[k]
}

// GraphChange is published by the graph store after every topology change.
type GraphChange struct {
	Kind     ChangeKind
	Op       string
	Revision uint64
	Snapshot Snapshot
}

// CloneConfig deep-copies a config map.
func CloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneConfig(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
