package graph

import (
	"log/slog"

	"github.com/avi3tal/stepflow/internal/types"
)

// DefaultDuplicateOffset is how far duplicated nodes are moved from their originals.
var DefaultDuplicateOffset = types.Position{X: 40, Y: 40}

// CardinalityFunc decides how many edges an input port may accept.
type CardinalityFunc func(node types.Node, port types.Port) types.Cardinality

// DeclaredCardinality uses the cardinality declared by the step metadata.
func DeclaredCardinality(_ types.Node, port types.Port) types.Cardinality {
	return port.Cardinality
}

// Option configures a Store
type Option func(*Store)

// WithDuplicateOffset sets the position offset applied by DuplicateNodes
func WithDuplicateOffset(offset types.Position) Option {
	return func(s *Store) {
		s.offset = offset
	}
}

// WithCardinality replaces the port cardinality rule used by Connect
func WithCardinality(fn CardinalityFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.cardinality = fn
		}
	}
}

// WithIDGenerator sets the generator used for node and edge ids
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}
