package workflow

import (
	"fmt"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/graph"
	"github.com/avi3tal/stepflow/internal/types"
)

const (
	columnWidth = 240
	rowHeight   = 140
)

// StepDef describes a node to add through the Builder.
type StepDef struct {
	Type   types.StepType
	Label  string
	Config map[string]any
}

// Step is shorthand for a StepDef.
func Step(t types.StepType, label string, cfg map[string]any) StepDef {
	return StepDef{Type: t, Label: label, Config: cfg}
}

// Builder is a fluent way to assemble a document in code. Errors are
// sticky: the first failure is returned by Document and every later call is
// a no-op.
type Builder struct {
	name        string
	description string
	store       *graph.Store
	rows        map[int]int
	err         error
}

// NewBuilder starts an empty document.
func NewBuilder(name string, opts ...graph.Option) *Builder {
	opts = append([]graph.Option{graph.WithLogger(ctxlog.Discard())}, opts...)
	return &Builder{name: name, store: graph.New(opts...), rows: make(map[int]int)}
}

// Describe sets the document description.
func (b *Builder) Describe(desc string) *Builder {
	b.description = desc
	return b
}

// Start adds the start node and returns the flow leaving it.
func (b *Builder) Start() *Flow {
	n, err := b.add(Step(types.StepStart, "", nil), 0)
	if err != nil {
		return &Flow{b: b}
	}
	return &Flow{b: b, column: 0, tails: []types.PortRef{{NodeID: n.ID, PortID: types.PortOut}}}
}

// Document returns the built document, or the first error met.
func (b *Builder) Document() (types.Document, error) {
	if b.err != nil {
		return types.Document{}, b.err
	}
	snap := b.store.Snapshot()
	return types.Document{
		Name:        b.name,
		Description: b.description,
		Nodes:       snap.Nodes,
		Edges:       snap.Edges,
	}, nil
}

// Load builds the document into a new engine.
func (b *Builder) Load(opts ...Option) (*Engine, error) {
	doc, err := b.Document()
	if err != nil {
		return nil, err
	}
	e, err := New(b.name, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.LoadDocument(doc); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (b *Builder) add(def StepDef, column int) (types.Node, error) {
	if b.err != nil {
		return types.Node{}, b.err
	}
	row := b.rows[column]
	b.rows[column]++
	n, err := b.store.AddNode(def.Type, types.Position{X: float64(column * columnWidth), Y: float64(row * rowHeight)})
	if err != nil {
		b.err = fmt.Errorf("add %s: %w", def.Type, err)
		return types.Node{}, b.err
	}
	update := graph.NodeUpdate{Config: def.Config}
	if def.Label != "" {
		update.Label = &def.Label
	}
	b.store.UpdateNode(n.ID, update)
	n, _ = b.store.Node(n.ID)
	return n, nil
}

func (b *Builder) link(from []types.PortRef, to types.PortRef) {
	for _, src := range from {
		if b.err != nil {
			return
		}
		if _, err := b.store.Connect(src, to); err != nil {
			b.err = fmt.Errorf("link %s.%s -> %s.%s: %w", src.NodeID, src.PortID, to.NodeID, to.PortID, err)
		}
	}
}

// Flow is the set of open output ports the next step attaches to.
type Flow struct {
	b      *Builder
	column int
	tails  []types.PortRef
}

// Err returns the builder's first error.
func (f *Flow) Err() error {
	return f.b.err
}

// Then adds a step fed by every open port of the flow.
func (f *Flow) Then(def StepDef) *Flow {
	n, ok := f.attach(def)
	if !ok {
		return f
	}
	return &Flow{b: f.b, column: f.column + 1, tails: outputs(n)}
}

// ThenIf adds a branch step with condition and routes its true and false
// ports to ifTrue and ifFalse. The returned flow continues from both.
func (f *Flow) ThenIf(condition string, ifTrue, ifFalse StepDef) *Flow {
	gate, ok := f.attach(Step(types.StepBranch, "", map[string]any{"condition": condition}))
	if !ok {
		return f
	}
	next := &Flow{b: f.b, column: f.column + 2}
	for _, arm := range []struct {
		port string
		def  StepDef
	}{{types.PortTrue, ifTrue}, {types.PortFalse, ifFalse}} {
		n, err := f.b.add(arm.def, f.column+2)
		if err != nil {
			return f
		}
		f.b.link([]types.PortRef{{NodeID: gate.ID, PortID: arm.port}}, inputOf(n))
		next.tails = append(next.tails, outputs(n)...)
	}
	return next
}

// ThenAll fans the flow out to every step. The returned flow continues from
// all of them, so the next Then joins them.
func (f *Flow) ThenAll(defs ...StepDef) *Flow {
	next := &Flow{b: f.b, column: f.column + 1}
	for _, def := range defs {
		n, ok := f.attach(def)
		if !ok {
			return f
		}
		next.tails = append(next.tails, outputs(n)...)
	}
	return next
}

// Approve adds a wait_for_human gate with message.
func (f *Flow) Approve(message string) *Flow {
	return f.Then(Step(types.StepWaitForHuman, "", map[string]any{"message": message}))
}

// End closes the flow with an end node and returns the builder.
func (f *Flow) End() *Builder {
	f.attach(Step(types.StepEnd, "", nil))
	return f.b
}

func (f *Flow) attach(def StepDef) (types.Node, bool) {
	n, err := f.b.add(def, f.column+1)
	if err != nil {
		return types.Node{}, false
	}
	f.b.link(f.tails, inputOf(n))
	return n, f.b.err == nil
}

func inputOf(n types.Node) types.PortRef {
	spec, _ := types.LookupStep(n.StepType)
	if len(spec.Inputs) == 0 {
		return types.PortRef{NodeID: n.ID}
	}
	return types.PortRef{NodeID: n.ID, PortID: spec.Inputs[0].ID}
}

func outputs(n types.Node) []types.PortRef {
	spec, _ := types.LookupStep(n.StepType)
	refs := make([]types.PortRef, 0, len(spec.Outputs))
	for _, p := range spec.Outputs {
		refs = append(refs, types.PortRef{NodeID: n.ID, PortID: p.ID})
	}
	return refs
}
