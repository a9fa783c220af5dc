// Package cli implements the flowctl commands.
package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/avi3tal/stepflow/internal/config"
	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/pkg/workflow"
)

// ErrInvalid is returned by commands given a workflow with validation errors.
var ErrInvalid = errors.New("workflow is invalid")

type globals struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the flowctl command tree. Commands read and write
// through the command's in, out and err streams.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Validate, run and convert workflow documents",
		Long: `flowctl works on workflow documents in the JSON interchange format
or YAML. It validates them, prints their graph, converts between formats and
runs them with the built-in step executors.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "engine config file (YAML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override: debug, info, warn, error")

	root.AddCommand(
		newValidateCmd(g),
		newRunCmd(g),
		newExportCmd(g),
		newGraphCmd(g),
	)
	return root
}

func (g *globals) config() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, nil
}

// engine loads the document at path into a new engine.
func (g *globals) engine(cmd *cobra.Command, path string) (*workflow.Engine, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	logger := ctxlog.New(cmd.ErrOrStderr(), cfg.LogLevel)

	opts := []workflow.Option{workflow.WithConfig(cfg), workflow.WithLogger(logger)}
	model, err := languageModel(cfg.Model, logger)
	if err != nil {
		return nil, err
	}
	if model != nil {
		opts = append(opts, workflow.WithModel(model))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read workflow")
	}
	doc, err := workflow.ParseDocument(data, formatOf(path))
	if err != nil {
		return nil, err
	}

	e, err := workflow.New(doc.Name, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.LoadDocument(doc); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// languageModel returns an OpenAI client when an API key is configured or
// set in OPENAI_API_KEY, and nil otherwise.
func languageModel(m config.Model, logger *slog.Logger) (llms.Model, error) {
	key := m.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		logger.Debug("no language model configured; prompt steps pass their input through")
		return nil, nil
	}
	opts := []openai.Option{openai.WithToken(key)}
	if m.Name != "" {
		opts = append(opts, openai.WithModel(m.Name))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create language model")
	}
	return llm, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}
