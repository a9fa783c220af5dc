package executors

import (
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/tmc/langchaingo/llms"
)

// Defaults registers the executors shipped with the engine. Prompt steps
// use model when it is non-nil; every step type without an executor falls
// back to Passthrough. Webhook steps use a plain http.Client.
func Defaults(model llms.Model) *Registry {
	r := NewRegistry().
		Register(types.StepBranch, NewBranch()).
		Register(types.StepMap, Map{}).
		Register(types.StepLog, Log).
		Register(types.StepDelay, Delay).
		Register(types.StepWebhook, NewWebhook(nil)).
		SetFallback(Passthrough)
	if model != nil {
		r.Register(types.StepPrompt, NewPrompt(model))
	}
	return r
}
