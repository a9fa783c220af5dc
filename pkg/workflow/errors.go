package workflow

import "errors"

var (
	// ErrDuplicateID is returned when a document reuses a node or edge id
	ErrDuplicateID = errors.New("duplicate id in document")

	// ErrUnsupportedFormat is returned for export formats other than json and yaml
	ErrUnsupportedFormat = errors.New("unsupported document format")
)
