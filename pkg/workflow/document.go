package workflow

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/avi3tal/stepflow/internal/graph"
	"github.com/avi3tal/stepflow/internal/types"
)

// Document returns the current graph as a document without touching the
// revision.
func (e *Engine) Document() types.Document {
	snap := e.graph.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.document(snap)
}

// Save bumps the revision and returns the document to persist.
func (e *Engine) Save() types.Document {
	snap := e.graph.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revision.Version++
	e.revision.UpdatedAt = e.clock()
	return e.document(snap)
}

func (e *Engine) document(snap types.Snapshot) types.Document {
	nodes := make([]types.Node, len(snap.Nodes))
	for i, n := range snap.Nodes {
		nodes[i] = n.Clone()
	}
	return types.Document{
		Name:        e.name,
		Description: e.description,
		Nodes:       nodes,
		Edges:       snap.Edges,
		Revision:    e.revision,
	}
}

// LoadDocument replaces the graph with doc and resets history. Edges that
// point at missing nodes are kept and reported by validation.
func (e *Engine) LoadDocument(doc types.Document) error {
	if err := checkDocument(doc); err != nil {
		return errors.Wrapf(err, "load document %q", doc.Name)
	}
	e.mu.Lock()
	e.name = doc.Name
	e.description = doc.Description
	e.revision = doc.Revision
	e.mu.Unlock()

	e.graph.Replace(doc.Nodes, doc.Edges)
	e.logger.Info("document loaded", "nodes", len(doc.Nodes), "edges", len(doc.Edges), "version", doc.Revision.Version)
	return nil
}

func checkDocument(doc types.Document) error {
	nodes := make(map[string]struct{}, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if _, ok := types.LookupStep(n.StepType); !ok {
			return errors.Wrapf(graph.ErrUnknownStepType, "node %s: %q", n.ID, n.StepType)
		}
		if _, dup := nodes[n.ID]; dup || n.ID == "" {
			return errors.Wrapf(ErrDuplicateID, "node %q", n.ID)
		}
		nodes[n.ID] = struct{}{}
	}
	edges := make(map[string]struct{}, len(doc.Edges))
	for _, edge := range doc.Edges {
		if _, dup := edges[edge.ID]; dup || edge.ID == "" {
			return errors.Wrapf(ErrDuplicateID, "edge %q", edge.ID)
		}
		edges[edge.ID] = struct{}{}
	}
	return nil
}

// Export encodes the current document as "json" or "yaml".
func (e *Engine) Export(format string) ([]byte, error) {
	doc := e.Document()
	switch strings.ToLower(format) {
	case "", "json":
		data, err := types.MarshalJSONDocument(doc)
		return data, errors.Wrap(err, "export json")
	case "yaml", "yml":
		data, err := types.MarshalYAMLDocument(doc)
		return data, errors.Wrap(err, "export yaml")
	}
	return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", format)
}

// Import decodes data in the given format and loads it.
func (e *Engine) Import(data []byte, format string) error {
	doc, err := ParseDocument(data, format)
	if err != nil {
		return err
	}
	return e.LoadDocument(doc)
}

// ParseDocument decodes a "json" or "yaml" document.
func ParseDocument(data []byte, format string) (types.Document, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return types.ParseJSONDocument(data)
	case "yaml", "yml":
		return types.ParseYAMLDocument(data)
	}
	return types.Document{}, errors.Wrapf(ErrUnsupportedFormat, "%q", format)
}
