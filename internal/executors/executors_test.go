package executors

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/graph"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/internal/validate"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel answers every prompt with reply, streamed word by word.
type fakeModel struct {
	mu          sync.Mutex
	reply       string
	prompts     []string
	temperature float64
	model       string
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	m.mu.Lock()
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	m.temperature = opts.Temperature
	m.model = opts.Model
	m.mu.Unlock()

	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(m.reply, " ") {
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestPrompt(t *testing.T) {
	t.Parallel()

	model := &fakeModel{reply: "short summary"}
	exec := NewPrompt(model)
	var chunks []string

	out, err := exec.Execute(context.Background(),
		task("r", "p", types.StepPrompt,
			map[string]any{"prompt": "Summarize: {{.input}}", "model": "small", "temperature": 0.2},
			execution.Input{Port: "in", Source: "a", Value: "long text"}),
		func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)
	require.Equal(t, "short summary", out.Output)
	require.Equal(t, []string{"Summarize: long text"}, model.prompts)
	require.Equal(t, []string{"short ", "summary"}, chunks)
	require.Equal(t, 0.2, model.temperature)
	require.Equal(t, "small", model.model)

	_, err = exec.Execute(context.Background(), task("r", "p", types.StepPrompt, map[string]any{"prompt": "{{.input"}), nil)
	require.ErrorContains(t, err, "render prompt")
}

func TestBranch(t *testing.T) {
	t.Parallel()
	b := NewBranch()

	tests := []struct {
		name    string
		cond    string
		input   any
		want    string
		wantErr string
	}{
		{name: "true", cond: `input == "yes"`, input: "yes", want: types.PortTrue},
		{name: "false", cond: `input == "yes"`, input: "no", want: types.PortFalse},
		{name: "numeric", cond: `input > 3`, input: 5, want: types.PortTrue},
		{name: "uses label", cond: `node == "gate"`, input: nil, want: types.PortTrue},
		{name: "syntax error", cond: `input ==`, input: "x", wantErr: "parse condition"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tk := task("r", "gate", types.StepBranch, map[string]any{"condition": tc.cond},
				execution.Input{Port: "in", Source: "up", Value: tc.input})
			out, err := b.Execute(context.Background(), tk, nil)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, out.ActivePort)
			require.Equal(t, tc.input, out.Output)
		})
	}
}

func TestMap(t *testing.T) {
	t.Parallel()

	out, err := Map{}.Execute(context.Background(),
		task("r", "m", types.StepMap, map[string]any{"expression": "item * 2 + index", "concurrency": 2},
			execution.Input{Port: "items", Source: "s", Value: []any{1, 2, 3}}), nil)
	require.NoError(t, err)
	require.Equal(t, []any{2, 5, 8}, out.Output)

	_, err = Map{}.Execute(context.Background(),
		task("r", "m", types.StepMap, map[string]any{"expression": "item"},
			execution.Input{Port: "items", Source: "s", Value: "nope"}), nil)
	require.ErrorContains(t, err, "must be a list")
}

func TestLogAndDelay(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), ctxlog.New(&buf, "debug"))
	out, err := Log.Execute(ctx, task("r", "l", types.StepLog, map[string]any{"message": "checkpoint", "level": "warn"},
		execution.Input{Port: "in", Source: "a", Value: "payload"}), nil)
	require.NoError(t, err)
	require.Equal(t, "payload", out.Output)
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "checkpoint")

	out, err = Delay.Execute(context.Background(), task("r", "d", types.StepDelay, map[string]any{"durationMs": 1},
		execution.Input{Port: "in", Source: "a", Value: 7}), nil)
	require.NoError(t, err)
	require.Equal(t, 7, out.Output)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Delay.Execute(cancelled, task("r", "d", types.StepDelay, map[string]any{"durationMs": 60000}), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestInputText(t *testing.T) {
	t.Parallel()
	got := InputText([]execution.Input{
		{Source: "a", Value: "plain"},
		{Source: "b", Value: nil},
		{Source: "c", Value: map[string]any{"k": 1}},
	})
	require.Equal(t, "plain\n{\"k\":1}", got)
}

// TestEndToEnd drives the controller with a real pool.
func TestEndToEnd(t *testing.T) {
	t.Parallel()

	g := graph.New()
	v := validate.New(nil)
	pool := NewPool(context.Background(), Defaults(&fakeModel{reply: "yes"}))
	defer pool.Close()
	c := execution.New(g, v, execution.WithDispatcher(pool))

	add := func(st types.StepType, cfg map[string]any) string {
		n, err := g.AddNode(st, types.Position{})
		require.NoError(t, err)
		g.UpdateNode(n.ID, graph.NodeUpdate{Config: cfg})
		return n.ID
	}
	link := func(src, srcPort, tgt, tgtPort string) {
		_, err := g.Connect(types.PortRef{NodeID: src, PortID: srcPort}, types.PortRef{NodeID: tgt, PortID: tgtPort})
		require.NoError(t, err)
	}

	start := add(types.StepStart, nil)
	ask := add(types.StepPrompt, map[string]any{"prompt": "Proceed?"})
	gate := add(types.StepBranch, map[string]any{"condition": `input == "yes"`})
	yes := add(types.StepLog, map[string]any{"message": "approved path"})
	no := add(types.StepDelay, map[string]any{"durationMs": 1})
	end := add(types.StepEnd, nil)
	link(start, "out", ask, "in")
	link(ask, "out", gate, "in")
	link(gate, "true", yes, "in")
	link(gate, "false", no, "in")
	link(yes, "out", end, "in")
	link(no, "out", end, "in")

	require.True(t, v.Validate(g).IsValid())
	_, err := c.StartRun("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, snap.Status)
	require.Equal(t, "yes", snap.NodeStates[ask].Output)
	require.Equal(t, "yes", snap.NodeStates[ask].StreamingOutput)
	require.Equal(t, types.PortTrue, snap.NodeStates[gate].ActivePort)
	require.Equal(t, types.NodeSuccess, snap.NodeStates[yes].Status)
	require.Equal(t, types.NodeSkipped, snap.NodeStates[no].Status)
}
