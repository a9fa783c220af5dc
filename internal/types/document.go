package types

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Revision is document metadata bumped on every save.
type Revision struct {
	Version   int       `json:"version" yaml:"version"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Document is the unit of save, load and export. It never carries execution
// state or history.
type Document struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Nodes       []Node   `json:"nodes" yaml:"nodes"`
	Edges       []Edge   `json:"edges" yaml:"edges"`
	Revision    Revision `json:"revision" yaml:"revision"`
}

// MarshalJSONDocument encodes a document in the interchange format.
func MarshalJSONDocument(doc Document) ([]byte, error) {
	doc = normalize(doc)
	return json.MarshalIndent(doc, "", "  ")
}

// ParseJSONDocument decodes a document from the interchange format.
func ParseJSONDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}
	return normalize(doc), nil
}

// MarshalYAMLDocument encodes a document as YAML.
func MarshalYAMLDocument(doc Document) ([]byte, error) {
	return yaml.Marshal(normalize(doc))
}

// ParseYAMLDocument decodes a YAML document.
func ParseYAMLDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse yaml document: %w", err)
	}
	return normalize(doc), nil
}

func normalize(doc Document) Document {
	if doc.Nodes == nil {
		doc.Nodes = []Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	for i := range doc.Nodes {
		if doc.Nodes[i].Config == nil {
			doc.Nodes[i].Config = map[string]any{}
		}
	}
	return doc
}
