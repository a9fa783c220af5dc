package executors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/goccy/go-json"
)

// DefaultWebhookTimeout bounds a single webhook call.
const DefaultWebhookTimeout = 60 * time.Second

// HTTPDoer is the part of *http.Client the webhook step needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Webhook calls an external HTTP endpoint with the step's inputs as a JSON
// body. The response body becomes the step output, decoded as JSON when it
// parses and kept as text otherwise.
type Webhook struct {
	Client HTTPDoer
}

// WebhookResponse is the output of a webhook step.
type WebhookResponse struct {
	Status int               `json:"status"`
	Body   any               `json:"body"`
	Header map[string]string `json:"headers"`
}

func NewWebhook(client HTTPDoer) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &Webhook{Client: client}
}

type webhookPayload struct {
	RunID  string         `json:"runId"`
	NodeID string         `json:"nodeId"`
	Inputs map[string]any `json:"inputs"`
}

func (w *Webhook) Execute(ctx context.Context, task execution.Task, _ StreamFunc) (execution.Outcome, error) {
	raw, err := types.DecodeConfig(types.StepWebhook, task.Node.Config)
	if err != nil {
		return execution.Outcome{}, err
	}
	cfg := raw.(*types.WebhookConfig)
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload, err := json.Marshal(webhookPayload{RunID: task.RunID, NodeID: task.Node.ID, Inputs: inputMap(task.Inputs)})
		if err != nil {
			return execution.Outcome{}, fmt.Errorf("encode webhook body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("create webhook request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := w.Client.Do(req)
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return execution.Outcome{}, fmt.Errorf("read webhook response: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("webhook called", "url", cfg.URL, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		return execution.Outcome{}, fmt.Errorf("webhook returned %s", resp.Status)
	}

	out := WebhookResponse{Status: resp.StatusCode, Header: make(map[string]string, len(resp.Header))}
	for k := range resp.Header {
		out.Header[k] = resp.Header.Get(k)
	}
	var decoded any
	if len(respBody) > 0 && json.Unmarshal(respBody, &decoded) == nil {
		out.Body = decoded
	} else {
		out.Body = string(respBody)
	}
	return execution.Outcome{Output: out}, nil
}
