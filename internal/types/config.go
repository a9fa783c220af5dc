package types

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// StepConfig is the typed view of a node's config. Each step type has its own
// variant; DecodeConfig selects it from the node's step type.
type StepConfig interface {
	StepType() StepType
	// Missing lists required fields that are absent or empty.
	Missing() []string
}

type PromptConfig struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

func (PromptConfig) StepType() StepType { return StepPrompt }
func (c PromptConfig) Missing() []string {
	return missing(field{"prompt", c.Prompt})
}

type RAGSearchConfig struct {
	Query      string `json:"query"`
	Collection string `json:"collection"`
	TopK       int    `json:"topK"`
}

func (RAGSearchConfig) StepType() StepType { return StepRAGSearch }
func (c RAGSearchConfig) Missing() []string {
	return missing(field{"collection", c.Collection})
}

type MediaIngestConfig struct {
	Source string `json:"source"`
}

func (MediaIngestConfig) StepType() StepType { return StepMediaIngest }
func (c MediaIngestConfig) Missing() []string {
	return missing(field{"source", c.Source})
}

// BranchConfig holds a boolean expression. The executor resolves it to the
// "true" or "false" port.
type BranchConfig struct {
	Condition string `json:"condition"`
}

func (BranchConfig) StepType() StepType { return StepBranch }
func (c BranchConfig) Missing() []string {
	return missing(field{"condition", c.Condition})
}

type MapConfig struct {
	Expression  string `json:"expression"`
	Concurrency int    `json:"concurrency"`
}

func (MapConfig) StepType() StepType { return StepMap }
func (c MapConfig) Missing() []string {
	return missing(field{"expression", c.Expression})
}

type WaitForHumanConfig struct {
	Message string `json:"message"`
}

func (WaitForHumanConfig) StepType() StepType { return StepWaitForHuman }
func (c WaitForHumanConfig) Missing() []string {
	return missing(field{"message", c.Message})
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (WebhookConfig) StepType() StepType { return StepWebhook }
func (c WebhookConfig) Missing() []string {
	return missing(field{"url", c.URL}, field{"method", c.Method})
}

type TTSConfig struct {
	Voice string `json:"voice"`
}

func (TTSConfig) StepType() StepType { return StepTTS }
func (c TTSConfig) Missing() []string {
	return missing(field{"voice", c.Voice})
}

type STTConfig struct {
	Language string `json:"language"`
}

func (STTConfig) StepType() StepType { return StepSTTTranscribe }
func (c STTConfig) Missing() []string {
	return missing(field{"language", c.Language})
}

type DelayConfig struct {
	DurationMs int64 `json:"durationMs"`
}

func (DelayConfig) StepType() StepType { return StepDelay }
func (DelayConfig) Missing() []string  { return nil }

type LogConfig struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

func (LogConfig) StepType() StepType { return StepLog }
func (LogConfig) Missing() []string  { return nil }

type StartConfig struct{}

func (StartConfig) StepType() StepType { return StepStart }
func (StartConfig) Missing() []string  { return nil }

type EndConfig struct{}

func (EndConfig) StepType() StepType { return StepEnd }
func (EndConfig) Missing() []string  { return nil }

var configFactories = map[StepType]func() StepConfig{
	StepPrompt:        func() StepConfig { return &PromptConfig{} },
	StepRAGSearch:     func() StepConfig { return &RAGSearchConfig{} },
	StepMediaIngest:   func() StepConfig { return &MediaIngestConfig{} },
	StepBranch:        func() StepConfig { return &BranchConfig{} },
	StepMap:           func() StepConfig { return &MapConfig{} },
	StepWaitForHuman:  func() StepConfig { return &WaitForHumanConfig{} },
	StepWebhook:       func() StepConfig { return &WebhookConfig{} },
	StepTTS:           func() StepConfig { return &TTSConfig{} },
	StepSTTTranscribe: func() StepConfig { return &STTConfig{} },
	StepDelay:         func() StepConfig { return &DelayConfig{} },
	StepLog:           func() StepConfig { return &LogConfig{} },
	StepStart:         func() StepConfig { return &StartConfig{} },
	StepEnd:           func() StepConfig { return &EndConfig{} },
}

// DecodeConfig converts an open config map into the typed variant for t.
// The returned value is a pointer to the variant struct.
func DecodeConfig(t StepType, cfg map[string]any) (StepConfig, error) {
	factory, ok := configFactories[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, t)
	}
	target := factory()
	if len(cfg) == 0 {
		return target, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode %s config: %w", t, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", t, err)
	}
	return target, nil
}

type field struct {
	name  string
	value string
}

func missing(fields ...field) []string {
	var out []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}
