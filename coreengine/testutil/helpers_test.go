package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/procurement/coreengine/agents"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
)

// =============================================================================
// FIXTURE TESTS
// =============================================================================

func TestSampleRequestIsValid(t *testing.T) {
	req := SampleRequest()
	require.NoError(t, req.Validate())
	assert.Equal(t, 500_000.0, req.Budget)
}

func TestDocumentResponseIsComplete(t *testing.T) {
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(DocumentResponse(1234)), &fields))
	for _, key := range []string{"project_overview", "requirements", "timeline", "budget"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, 1234.0, fields["budget"])
}

func TestFastEngineConfigIsValid(t *testing.T) {
	assert.NoError(t, FastEngineConfig().Validate())
}

func TestMustJSONPanicsOnUnsupported(t *testing.T) {
	assert.Panics(t, func() { MustJSON(make(chan int)) })
}

// =============================================================================
// MOCK GENERATOR TESTS
// =============================================================================

func TestMockGeneratorRoutesByTask(t *testing.T) {
	gen := NewMockGenerator()
	ctx := context.Background()

	out, err := gen.Generate(ctx, agents.Prompt{Task: agents.StageClassification})
	require.NoError(t, err)
	assert.Contains(t, out, "Software")

	out, err = gen.Generate(ctx, agents.Prompt{Task: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)

	assert.Equal(t, 2, gen.GetCallCount())
	assert.Equal(t, 1, gen.CallsFor(agents.StageClassification))

	last, ok := gen.LastPrompt(agents.StageClassification)
	assert.True(t, ok)
	assert.Equal(t, agents.StageClassification, last.Task)

	gen.Reset()
	assert.Zero(t, gen.GetCallCount())
}

func TestMockGeneratorErrorAndDelay(t *testing.T) {
	gen := NewMockGenerator().WithError(ErrUpstream)
	_, err := gen.Generate(context.Background(), agents.Prompt{})
	assert.ErrorIs(t, err, ErrUpstream)

	slow := NewMockGenerator().WithDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Generate(ctx, agents.Prompt{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockGeneratorFunc(t *testing.T) {
	gen := NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, p agents.Prompt) (string, error) {
		return "custom:" + p.Task, nil
	}
	out, err := gen.Generate(context.Background(), agents.Prompt{Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, "custom:x", out)
}

// =============================================================================
// SCRIPTED GENERATOR TESTS
// =============================================================================

func TestScriptedGeneratorReplaysAndRepeatsLast(t *testing.T) {
	gen := NewScriptedGenerator().Script(agents.StageGeneration,
		Reply{Err: ErrUpstream},
		Reply{Text: "second"},
	)
	ctx := context.Background()
	prompt := agents.Prompt{Task: agents.StageGeneration}

	_, err := gen.Generate(ctx, prompt)
	assert.ErrorIs(t, err, ErrUpstream)
	out, err := gen.Generate(ctx, prompt)
	require.NoError(t, err)
	assert.Equal(t, "second", out)
	out, _ = gen.Generate(ctx, prompt)
	assert.Equal(t, "second", out)
	assert.Equal(t, 3, gen.CallsFor(agents.StageGeneration))

	out, err = gen.Generate(ctx, agents.Prompt{Task: agents.StageClassification})
	require.NoError(t, err)
	assert.Contains(t, out, "Software", "unscripted task uses the fallback")
}

func TestScriptedGeneratorIgnoreContext(t *testing.T) {
	gen := NewScriptedGenerator().Script("slow", Reply{Text: "late", Delay: 30 * time.Millisecond, IgnoreContext: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	out, err := gen.Generate(ctx, agents.Prompt{Task: "slow"})
	require.NoError(t, err)
	assert.Equal(t, "late", out)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestScriptedGeneratorPanics(t *testing.T) {
	gen := NewScriptedGenerator().Script("boom", Reply{Panic: "kaboom"})
	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = gen.Generate(context.Background(), agents.Prompt{Task: "boom"})
	})
}

// =============================================================================
// CRITIC & DELIVERER TESTS
// =============================================================================

func TestMockCritic(t *testing.T) {
	critic := NewMockCritic()
	c, err := critic.Critique(context.Background(), domain.RFPDocument{})
	require.NoError(t, err)
	assert.True(t, c.Approved)

	critic.WithIssues("Scope unclear")
	c, err = critic.Critique(context.Background(), domain.RFPDocument{})
	require.NoError(t, err)
	assert.False(t, c.Approved)
	assert.Equal(t, []string{"Scope unclear"}, c.Issues)
	assert.Equal(t, 2, critic.GetCallCount())
}

func TestRecordingDeliverer(t *testing.T) {
	d := NewRecordingDeliverer()
	doc := domain.RFPDocument{Title: "RFP", Requirements: []string{"a"}}

	require.NoError(t, d.Deliver(context.Background(), doc))
	doc.Requirements[0] = "changed"

	delivered := d.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, []string{"a"}, delivered[0].Requirements)
	assert.Equal(t, "recording", d.Name())

	d.Error = ErrUpstream
	assert.ErrorIs(t, d.Deliver(context.Background(), doc), ErrUpstream)
}
