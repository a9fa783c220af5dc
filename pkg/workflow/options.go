package workflow

import (
	"log/slog"
	"time"

	"github.com/avi3tal/stepflow/internal/checkpoints"
	"github.com/avi3tal/stepflow/internal/config"
	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/executors"
	"github.com/tmc/langchaingo/llms"
)

type options struct {
	cfg        config.Config
	logger     *slog.Logger
	model      llms.Model
	registry   *executors.Registry
	dispatcher execution.Dispatcher
	clock      func() time.Time
	newID      func() string
	store      checkpoints.Store
}

// Option configures an Engine
type Option func(*options)

// WithConfig replaces the default engine settings
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger shared by every engine component
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithModel runs prompt steps against model
func WithModel(model llms.Model) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithRegistry replaces the default step executors
func WithRegistry(r *executors.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithDispatcher hands steps to d instead of the built-in executor pool.
func WithDispatcher(d execution.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithClock sets the time source for timestamps and revisions
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator sets the generator for node and edge ids
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		o.newID = gen
	}
}

// WithCheckpointStore archives finished runs in store instead of memory
func WithCheckpointStore(store checkpoints.Store) Option {
	return func(o *options) {
		o.store = store
	}
}
