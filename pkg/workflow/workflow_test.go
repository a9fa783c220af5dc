package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avi3tal/stepflow/internal/ctxlog"
	"github.com/avi3tal/stepflow/internal/graph"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/internal/validate"
)

func edgesByLabel(doc types.Document) []string {
	labels := make(map[string]string, len(doc.Nodes))
	for _, n := range doc.Nodes {
		labels[n.ID] = n.Label
	}
	out := make([]string, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		out = append(out, labels[e.Source]+"."+e.SourcePort+"->"+labels[e.Target]+"."+e.TargetPort)
	}
	return out
}

func TestBuilderFanOutAndJoin(t *testing.T) {
	t.Parallel()

	doc, err := NewBuilder("fan").
		Start().
		ThenAll(
			Step(types.StepPrompt, "Summarize", map[string]any{"prompt": "Summarize {{.input}}"}),
			Step(types.StepWebhook, "Notify", map[string]any{"url": "https://example.com/hook"}),
		).
		Then(Step(types.StepLog, "Collect", map[string]any{"level": "debug"})).
		End().
		Document()
	require.NoError(t, err)

	require.Equal(t, []string{
		"Start.out->Summarize.in",
		"Start.out->Notify.in",
		"Summarize.out->Collect.in",
		"Notify.response->Collect.in",
		"Collect.out->End.in",
	}, edgesByLabel(doc))

	byLabel := make(map[string]types.Node)
	for _, n := range doc.Nodes {
		byLabel[n.Label] = n
	}
	require.Equal(t, "debug", byLabel["Collect"].Config["level"])
	require.Equal(t, "", byLabel["Collect"].Config["message"], "defaults are kept")
	require.Equal(t, byLabel["Summarize"].Position.X, byLabel["Notify"].Position.X)
	require.NotEqual(t, byLabel["Summarize"].Position.Y, byLabel["Notify"].Position.Y)

	require.Empty(t, validate.Validate(doc.Nodes, doc.Edges))
}

func TestBuilderBranch(t *testing.T) {
	t.Parallel()

	doc, err := NewBuilder("branch").
		Start().
		ThenIf(`input == "go"`, Step(types.StepLog, "Yes", nil), Step(types.StepDelay, "No", nil)).
		End().
		Document()
	require.NoError(t, err)
	require.Equal(t, []string{
		"Start.out->Branch.in",
		"Branch.true->Yes.in",
		"Branch.false->No.in",
		"Yes.out->End.in",
		"No.out->End.in",
	}, edgesByLabel(doc))
}

func TestBuilderStickyError(t *testing.T) {
	t.Parallel()

	b := NewBuilder("bad")
	flow := b.Start().
		ThenAll(Step(types.StepLog, "A", nil), Step(types.StepLog, "B", nil)).
		Then(Step(types.StepTTS, "Speak", nil))
	require.ErrorIs(t, flow.Err(), graph.ErrPortOccupied)

	flow.Then(Step(types.StepLog, "After", nil)).End()
	_, err := b.Document()
	require.ErrorIs(t, err, graph.ErrPortOccupied)

	_, err = NewBuilder("unknown").Start().Then(Step("teleport", "", nil)).End().Document()
	require.ErrorIs(t, err, graph.ErrUnknownStepType)
}

func TestBuilderLoad(t *testing.T) {
	t.Parallel()

	e, err := NewBuilder("loaded").Start().Then(Step(types.StepLog, "Only", nil)).End().Load(WithLogger(ctxlog.Discard()))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	require.Equal(t, "loaded", e.Name())
	require.Len(t, e.Nodes(), 3)
	require.True(t, e.Validate().IsValid())
}
