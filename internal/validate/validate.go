// Package validate derives structural and semantic issues from a workflow
// graph.
package validate

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/avi3tal/stepflow/internal/types"
)

// Result is the outcome of one validation pass.
type Result struct {
	Revision uint64
	Issues   []types.ValidationIssue
}

// IsValid reports whether no issue has error severity. Warnings never block
// a run.
func (r Result) IsValid() bool {
	for _, i := range r.Issues {
		if i.Severity == types.SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the error-severity issues.
func (r Result) Errors() []types.ValidationIssue {
	return r.filter(types.SeverityError)
}

// Warnings returns the warning-severity issues.
func (r Result) Warnings() []types.ValidationIssue {
	return r.filter(types.SeverityWarning)
}

func (r Result) clone() Result {
	r.Issues = slices.Clone(r.Issues)
	return r
}

func (r Result) filter(sev types.Severity) []types.ValidationIssue {
	var out []types.ValidationIssue
	for _, i := range r.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}

// Validate runs every check against nodes and edges. It never mutates its
// inputs and returns the same issues, in the same order, for the same graph.
func Validate(nodes []types.Node, edges []types.Edge) []types.ValidationIssue {
	c := newChecker(nodes, edges)
	c.entryPoints()
	c.reachability()
	c.requiredConfig()
	c.orphanedEdges()
	c.danglingPorts()
	c.cardinality()
	return c.issues
}

type checker struct {
	nodes  []types.Node
	edges  []types.Edge
	byID   map[string]types.Node
	starts []types.Node
	issues []types.ValidationIssue
}

func newChecker(nodes []types.Node, edges []types.Edge) *checker {
	c := &checker{nodes: nodes, edges: edges, byID: make(map[string]types.Node, len(nodes))}
	for _, n := range nodes {
		c.byID[n.ID] = n
		if n.StepType == types.StepStart {
			c.starts = append(c.starts, n)
		}
	}
	return c
}

func (c *checker) add(sev types.Severity, id, msg, nodeID, edgeID string) {
	c.issues = append(c.issues, types.ValidationIssue{
		ID:       id,
		Severity: sev,
		Message:  msg,
		NodeID:   nodeID,
		EdgeID:   edgeID,
	})
}

func (c *checker) entryPoints() {
	switch len(c.starts) {
	case 0:
		c.add(types.SeverityError, "no-entry-point", "no entry point: the workflow needs a start node", "", "")
	case 1:
	default:
		c.add(types.SeverityError, "multiple-entry-points",
			fmt.Sprintf("multiple entry points: found %d start nodes", len(c.starts)), c.starts[1].ID, "")
	}
}

// reachability warns about non-start nodes that no path from a start node
// reaches. Without a start node the entry check already reports the problem.
func (c *checker) reachability() {
	if len(c.starts) == 0 {
		return
	}
	reached := Reachable(c.nodes, c.edges, c.starts[0].ID)
	for _, s := range c.starts[1:] {
		for id := range Reachable(c.nodes, c.edges, s.ID) {
			reached[id] = struct{}{}
		}
	}
	for _, n := range c.nodes {
		if n.StepType == types.StepStart {
			continue
		}
		if _, ok := reached[n.ID]; !ok {
			c.add(types.SeverityWarning, "unreachable:"+n.ID,
				fmt.Sprintf("%q is not reachable from the start node", displayName(n)), n.ID, "")
		}
	}
}

func (c *checker) requiredConfig() {
	for _, n := range c.nodes {
		cfg, err := types.DecodeConfig(n.StepType, n.Config)
		if err != nil {
			c.add(types.SeverityError, "invalid-config:"+n.ID,
				fmt.Sprintf("%q: %v", displayName(n), err), n.ID, "")
			continue
		}
		for _, field := range cfg.Missing() {
			c.add(types.SeverityError, "missing-config:"+n.ID+":"+field,
				fmt.Sprintf("%q is missing required field %q", displayName(n), field), n.ID, "")
		}
	}
}

func (c *checker) orphanedEdges() {
	for _, e := range c.edges {
		_, src := c.byID[e.Source]
		_, tgt := c.byID[e.Target]
		if !src || !tgt {
			c.add(types.SeverityWarning, "orphaned-edge:"+e.ID,
				"edge references a node that no longer exists", "", e.ID)
		}
	}
}

func (c *checker) danglingPorts() {
	for _, e := range c.edges {
		src, okSrc := c.byID[e.Source]
		tgt, okTgt := c.byID[e.Target]
		if !okSrc || !okTgt {
			continue
		}
		if !declaresOutput(src, e.SourcePort) {
			c.add(types.SeverityWarning, "dangling-port:"+e.ID+":source",
				fmt.Sprintf("%q has no output port %q", displayName(src), e.SourcePort), src.ID, e.ID)
		}
		if !declaresInput(tgt, e.TargetPort) {
			c.add(types.SeverityWarning, "dangling-port:"+e.ID+":target",
				fmt.Sprintf("%q has no input port %q", displayName(tgt), e.TargetPort), tgt.ID, e.ID)
		}
	}
}

// cardinality flags single-edge input ports that carry several edges, which
// only happens when a document was loaded or the rule was relaxed.
func (c *checker) cardinality() {
	counts := make(map[types.PortRef]int)
	for _, e := range c.edges {
		counts[e.TargetRef()]++
	}
	for _, n := range c.nodes {
		spec, ok := types.LookupStep(n.StepType)
		if !ok {
			continue
		}
		for _, p := range spec.Inputs {
			if p.Cardinality != types.CardinalitySingle {
				continue
			}
			if k := counts[types.PortRef{NodeID: n.ID, PortID: p.ID}]; k > 1 {
				c.add(types.SeverityWarning, "ambiguous-cardinality:"+n.ID+":"+p.ID,
					fmt.Sprintf("%q input %q accepts one edge but has %d", displayName(n), p.ID, k), n.ID, "")
			}
		}
	}
}

func declaresOutput(n types.Node, port string) bool {
	spec, ok := types.LookupStep(n.StepType)
	if !ok {
		return false
	}
	_, ok = spec.Output(port)
	return ok
}

func declaresInput(n types.Node, port string) bool {
	spec, ok := types.LookupStep(n.StepType)
	if !ok {
		return false
	}
	_, ok = spec.Input(port)
	return ok
}

func displayName(n types.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Reachable returns the ids of nodes reachable from root, root included.
// Edges to or from unknown nodes are ignored.
func Reachable(nodes []types.Node, edges []types.Edge, root string) map[string]struct{} {
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}
	adj := make(map[string][]string)
	for _, e := range edges {
		if _, ok := known[e.Target]; ok {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}

	seen := map[string]struct{}{}
	if _, ok := known[root]; !ok {
		return seen
	}
	seen[root] = struct{}{}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return seen
}

// Graph is the view of the graph store the Validator reads.
type Graph interface {
	Current() (types.Snapshot, uint64)
}

// Validator caches the last result per graph revision.
type Validator struct {
	mu     sync.Mutex
	last   *Result
	logger *slog.Logger
}

// New creates a Validator. A nil logger means slog.Default.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate validates the current graph, reusing the cached result when the
// revision has not changed.
func (v *Validator) Validate(g Graph) Result {
	snap, rev := g.Current()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last != nil && v.last.Revision == rev {
		return v.last.clone()
	}
	res := Result{Revision: rev, Issues: Validate(snap.Nodes, snap.Edges)}
	v.last = &res
	v.logger.Debug("graph validated", "revision", rev, "issues", len(res.Issues), "valid", res.IsValid())
	return res.clone()
}

// Invalidate drops the cached result.
func (v *Validator) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = nil
}

// Last returns the cached result if it was computed for revision rev.
func (v *Validator) Last(rev uint64) (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last == nil || v.last.Revision != rev {
		return Result{}, false
	}
	return v.last.clone(), true
}
