package executors

import (
	"context"
	"fmt"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// Prompt runs prompt steps against a language model. The step's prompt is a
// Go template; {{.input}} expands to the upstream text.
type Prompt struct {
	Model llms.Model
}

func NewPrompt(model llms.Model) *Prompt {
	return &Prompt{Model: model}
}

func (p *Prompt) Execute(ctx context.Context, task execution.Task, stream StreamFunc) (execution.Outcome, error) {
	raw, err := types.DecodeConfig(types.StepPrompt, task.Node.Config)
	if err != nil {
		return execution.Outcome{}, err
	}
	cfg := raw.(*types.PromptConfig)

	text, err := prompts.NewPromptTemplate(cfg.Prompt, []string{"input"}).Format(map[string]any{
		"input": InputText(task.Inputs),
	})
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("render prompt: %w", err)
	}

	opts := []llms.CallOption{
		llms.WithTemperature(cfg.Temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if stream != nil {
				stream(string(chunk))
			}
			return nil
		}),
	}
	if cfg.Model != "" {
		opts = append(opts, llms.WithModel(cfg.Model))
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, p.Model, text, opts...)
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("generate: %w", err)
	}
	return execution.Outcome{Output: completion}, nil
}
