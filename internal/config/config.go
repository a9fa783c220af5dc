// Package config loads the engine settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHistoryLimit   = 50
	defaultMaxIterations  = 10
	defaultMaxConcurrency = 4
	defaultDuplicateShift = 40
)

// Config holds every tunable of an engine.
type Config struct {
	LogLevel  string    `yaml:"logLevel"`
	History   History   `yaml:"history"`
	Graph     Graph     `yaml:"graph"`
	Run       Run       `yaml:"run"`
	Executors Executors `yaml:"executors"`
	Model     Model     `yaml:"model"`
}

type History struct {
	Limit int `yaml:"limit"`
}

type Graph struct {
	DuplicateOffsetX float64 `yaml:"duplicateOffsetX"`
	DuplicateOffsetY float64 `yaml:"duplicateOffsetY"`
}

type Run struct {
	MaxIterations int `yaml:"maxIterations"`
}

type Executors struct {
	MaxConcurrency int   `yaml:"maxConcurrency"`
	Retry          Retry `yaml:"retry"`
}

type Retry struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Delay       time.Duration `yaml:"delay"`
}

// Model selects the language model behind prompt steps. An empty Name
// leaves prompt steps on the passthrough executor.
type Model struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"apiKey"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		History:  History{Limit: defaultHistoryLimit},
		Graph: Graph{
			DuplicateOffsetX: defaultDuplicateShift,
			DuplicateOffsetY: defaultDuplicateShift,
		},
		Run:       Run{MaxIterations: defaultMaxIterations},
		Executors: Executors{MaxConcurrency: defaultMaxConcurrency},
	}
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the file at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.History.Limit < 1:
		return fmt.Errorf("history.limit must be positive, got %d", c.History.Limit)
	case c.Run.MaxIterations < 1:
		return fmt.Errorf("run.maxIterations must be positive, got %d", c.Run.MaxIterations)
	case c.Executors.MaxConcurrency < 1:
		return fmt.Errorf("executors.maxConcurrency must be positive, got %d", c.Executors.MaxConcurrency)
	case c.Executors.Retry.MaxAttempts < 0:
		return fmt.Errorf("executors.retry.maxAttempts must not be negative, got %d", c.Executors.Retry.MaxAttempts)
	}
	return nil
}
