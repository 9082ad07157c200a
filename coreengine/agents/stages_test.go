package agents_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/procurement/coreengine/agents"
	"github.com/jeeves-cluster-organization/procurement/coreengine/config"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/guardrails"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/testutil"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func viewFor(req domain.ProcurementRequest) envelope.View {
	return envelope.View{RunID: "run-1", Request: req}
}

func classifiedView(req domain.ProcurementRequest, c domain.Category) envelope.View {
	v := viewFor(req)
	v.Classification = &domain.ClassificationResult{Category: c, Confidence: 0.9}
	return v
}

func documentView(doc domain.RFPDocument) envelope.View {
	v := viewFor(testutil.SampleRequest())
	v.Document = &doc
	return v
}

func completeDocument(budget float64) domain.RFPDocument {
	return domain.RFPDocument{
		Title:        "RFP for CRM platform",
		Category:     domain.CategorySoftware,
		Overview:     "Cloud CRM",
		Requirements: []string{"SSO"},
		Timeline:     "Q4",
		Budget:       budget,
		Currency:     "USD",
	}
}

// =============================================================================
// STAGE IDENTITY
// =============================================================================

func TestStageNamesAndStatuses(t *testing.T) {
	gen := testutil.NewMockGenerator()
	cfg := config.DefaultEngineConfig()

	stages := []agents.Stage{
		agents.NewClassificationStage(gen),
		agents.NewGenerationStage(gen, cfg),
		agents.NewApprovalStage(guardrails.NewPolicy(cfg), testutil.NewMockCritic()),
	}
	want := []struct {
		name   string
		status kernel.Status
	}{
		{agents.StageClassification, kernel.StatusClassifying},
		{agents.StageGeneration, kernel.StatusGenerating},
		{agents.StageApproval, kernel.StatusApproving},
	}
	for i, s := range stages {
		assert.Equal(t, want[i].name, s.Name())
		assert.Equal(t, want[i].status, s.Status())
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassificationStage(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantCategory domain.Category
		wantKind     errs.Kind
	}{
		{"software", testutil.ClassificationResponse("Software", 0.92), domain.CategorySoftware, ""},
		{"raw materials display name", testutil.ClassificationResponse("Raw Materials", 0.7), domain.CategoryRawMaterials, ""},
		{"wrapped in prose", "Sure! " + testutil.ClassificationResponse("Hardware", 1), domain.CategoryHardware, ""},
		{"reasoning key", `{"category":"Services","confidence":"0.6","reasoning":"consulting"}`, domain.CategoryServices, ""},
		{"unknown category", testutil.ClassificationResponse("Furniture", 0.9), "", errs.KindClassificationUnparseable},
		{"confidence above one", testutil.ClassificationResponse("Software", 1.5), "", errs.KindClassificationUnparseable},
		{"negative confidence", testutil.ClassificationResponse("Software", -0.1), "", errs.KindClassificationUnparseable},
		{"word confidence", `{"category":"Software","confidence":"high"}`, "", errs.KindClassificationUnparseable},
		{"missing confidence", `{"category":"Software"}`, "", errs.KindClassificationUnparseable},
		{"missing category", `{"confidence":0.5}`, "", errs.KindClassificationUnparseable},
		{"not json", "I think it is software", "", errs.KindClassificationUnparseable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := testutil.NewMockGenerator().WithResponse(agents.StageClassification, tt.response)
			stage := agents.NewClassificationStage(gen)

			out, err := stage.Execute(context.Background(), viewFor(testutil.SampleRequest()))
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errs.KindOf(err))
				assert.Nil(t, out)
				return
			}
			require.NoError(t, err)
			result, ok := out.(domain.ClassificationResult)
			require.True(t, ok)
			assert.Equal(t, tt.wantCategory, result.Category)
			assert.NotEmpty(t, result.Rationale)
		})
	}
}

func TestClassificationUpstreamFailure(t *testing.T) {
	gen := testutil.NewMockGenerator().WithError(testutil.ErrUpstream)
	_, err := agents.NewClassificationStage(gen).Execute(context.Background(), viewFor(testutil.SampleRequest()))

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, testutil.ErrUpstream)
}

func TestClassificationPromptCarriesHint(t *testing.T) {
	gen := testutil.NewMockGenerator()
	req := testutil.SampleRequest()
	req.CategoryHint = domain.CategoryRawMaterials

	_, err := agents.NewClassificationStage(gen).Execute(context.Background(), viewFor(req))
	require.NoError(t, err)

	prompt, ok := gen.LastPrompt(agents.StageClassification)
	require.True(t, ok)
	assert.Contains(t, prompt.User, "Raw Materials")
	assert.Contains(t, prompt.User, req.Description)
	assert.True(t, prompt.JSONResponse)
	assert.Zero(t, prompt.Temperature)
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGenerationStageBuildsDocument(t *testing.T) {
	gen := testutil.NewMockGenerator()
	stage := agents.NewGenerationStage(gen, config.DefaultEngineConfig(), agents.WithClock(func() time.Time { return fixedNow }))
	req := testutil.SampleRequest()

	out, err := stage.Execute(context.Background(), classifiedView(req, domain.CategorySoftware))
	require.NoError(t, err)

	doc, ok := out.(domain.RFPDocument)
	require.True(t, ok)
	assert.Equal(t, req.ID, doc.RequestID)
	assert.Equal(t, domain.CategorySoftware, doc.Category)
	assert.Equal(t, 500_000.0, doc.Budget)
	assert.Equal(t, "USD", doc.Currency)
	assert.Equal(t, fixedNow, doc.GeneratedAt)
	assert.Len(t, doc.Requirements, 3)
	assert.Equal(t, req.Suppliers, doc.Suppliers)
	assert.Empty(t, doc.MissingSections(domain.DefaultRequiredSections()))

	prompt, _ := gen.LastPrompt(agents.StageGeneration)
	assert.Contains(t, prompt.User, "CATEGORY: Software")
	assert.Contains(t, prompt.User, "500000.00 USD")
}

func TestGenerationBudgetHandling(t *testing.T) {
	tests := []struct {
		name       string
		declared   float64
		override   bool
		generated  any
		wantBudget float64
		wantErr    string
	}{
		{name: "within declared", declared: 500_000, generated: 450_000.0, wantBudget: 450_000},
		{name: "equal to declared", declared: 500_000, generated: 500_000.0, wantBudget: 500_000},
		{name: "above declared", declared: 500_000, generated: 600_000.0, wantErr: "exceeds declared budget"},
		{name: "above declared with override", declared: 500_000, override: true, generated: 600_000.0, wantBudget: 600_000},
		{name: "declared unspecified", declared: 0, generated: 2_000_000.0, wantBudget: 2_000_000},
		{name: "text budget", declared: 500_000, generated: "$75,000", wantBudget: 75_000},
		{name: "size word", declared: 3_000_000, generated: "$2.5 million", wantBudget: 2_500_000},
		{name: "abbreviated size word", declared: 0, generated: "$1.2M", wantBudget: 1_200_000},
		{name: "size word above declared", declared: 500_000, generated: "$2.5 million", wantErr: "exceeds declared budget"},
		{name: "missing budget falls back", declared: 500_000, generated: nil, wantBudget: 500_000},
		{name: "budget without digits falls back", declared: 500_000, generated: "TBD", wantBudget: 500_000},
		{name: "unreadable amount", declared: 500_000, generated: "2.5 gazillion", wantErr: "not a recognisable amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := testutil.DocumentFields(0)
			if tt.generated == nil {
				delete(fields, "budget")
			} else {
				fields["budget"] = tt.generated
			}
			gen := testutil.NewMockGenerator().WithResponse(agents.StageGeneration, testutil.MustJSON(fields))
			req := testutil.SampleRequest()
			req.Budget = tt.declared
			req.AllowBudgetOverride = tt.override

			out, err := agents.NewGenerationStage(gen, config.DefaultEngineConfig()).
				Execute(context.Background(), classifiedView(req, domain.CategorySoftware))

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrIncompleteDocument)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBudget, out.(domain.RFPDocument).Budget)
		})
	}
}

func TestGenerationMissingSectionsPolicy(t *testing.T) {
	fields := testutil.DocumentFields(400_000)
	fields["timeline"] = ""
	response := testutil.MustJSON(fields)

	t.Run("reject passes document on", func(t *testing.T) {
		gen := testutil.NewMockGenerator().WithResponse(agents.StageGeneration, response)
		out, err := agents.NewGenerationStage(gen, config.DefaultEngineConfig()).
			Execute(context.Background(), classifiedView(testutil.SampleRequest(), domain.CategorySoftware))
		require.NoError(t, err)
		assert.Equal(t, []domain.Section{domain.SectionTimeline},
			out.(domain.RFPDocument).MissingSections(domain.DefaultRequiredSections()))
	})

	t.Run("fail stops generation", func(t *testing.T) {
		cfg := config.DefaultEngineConfig()
		cfg.IncompleteDocuments = config.IncompleteFail
		gen := testutil.NewMockGenerator().WithResponse(agents.StageGeneration, response)
		_, err := agents.NewGenerationStage(gen, cfg).
			Execute(context.Background(), classifiedView(testutil.SampleRequest(), domain.CategorySoftware))
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrIncompleteDocument)
		assert.Contains(t, err.Error(), "Timeline")
	})
}

func TestGenerationFailures(t *testing.T) {
	t.Run("unrecoverable output", func(t *testing.T) {
		gen := testutil.NewMockGenerator().WithResponse(agents.StageGeneration, "Sorry, I cannot draft this.")
		_, err := agents.NewGenerationStage(gen, config.DefaultEngineConfig()).
			Execute(context.Background(), classifiedView(testutil.SampleRequest(), domain.CategorySoftware))
		assert.Equal(t, errs.KindIncompleteDocument, errs.KindOf(err))
	})

	t.Run("upstream error", func(t *testing.T) {
		gen := testutil.NewMockGenerator().WithError(testutil.ErrUpstream)
		_, err := agents.NewGenerationStage(gen, config.DefaultEngineConfig()).
			Execute(context.Background(), classifiedView(testutil.SampleRequest(), domain.CategorySoftware))
		assert.True(t, errs.Retryable(err))
	})

	t.Run("missing classification", func(t *testing.T) {
		_, err := agents.NewGenerationStage(testutil.NewMockGenerator(), config.DefaultEngineConfig()).
			Execute(context.Background(), viewFor(testutil.SampleRequest()))
		assert.Equal(t, errs.KindInternal, errs.KindOf(err))
	})

	t.Run("stage error passes through", func(t *testing.T) {
		gen := testutil.NewMockGenerator().WithError(errs.New(errs.KindIncompleteDocument, "refused"))
		_, err := agents.NewGenerationStage(gen, config.DefaultEngineConfig()).
			Execute(context.Background(), classifiedView(testutil.SampleRequest(), domain.CategorySoftware))
		assert.Equal(t, errs.KindIncompleteDocument, errs.KindOf(err))
	})
}

func TestGenerationDefaultsTitleAndCurrency(t *testing.T) {
	fields := testutil.DocumentFields(1000)
	delete(fields, "title")
	gen := testutil.NewMockGenerator().WithResponse(agents.StageGeneration, testutil.MustJSON(fields))
	cfg := config.DefaultEngineConfig()
	cfg.DefaultCurrency = "EUR"
	req := testutil.SampleRequest()
	req.Currency = ""

	out, err := agents.NewGenerationStage(gen, cfg).Execute(context.Background(), classifiedView(req, domain.CategoryHardware))
	require.NoError(t, err)
	doc := out.(domain.RFPDocument)
	assert.Equal(t, "RFP for CRM platform", doc.Title)
	assert.Equal(t, "EUR", doc.Currency)
	assert.Equal(t, domain.CategoryHardware, doc.Category)
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestApprovalStageOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		doc         domain.RFPDocument
		critic      *testutil.MockCritic
		wantOutcome domain.ApprovalOutcome
		wantCalls   int
	}{
		{"approved", completeDocument(500_000), testutil.NewMockCritic(), domain.OutcomeApproved, 1},
		{"escalated", completeDocument(2_000_000), testutil.NewMockCritic(), domain.OutcomeEscalated, 1},
		{"critique rejects", completeDocument(10_000), testutil.NewMockCritic().WithIssues("Scope unclear"), domain.OutcomeRejected, 1},
		{"missing section skips critic", func() domain.RFPDocument {
			d := completeDocument(10_000)
			d.Timeline = ""
			return d
		}(), testutil.NewMockCritic(), domain.OutcomeRejected, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := agents.NewApprovalStage(guardrails.NewPolicy(config.DefaultEngineConfig()), tt.critic)
			out, err := stage.Execute(context.Background(), documentView(tt.doc))
			require.NoError(t, err)

			result, ok := out.(domain.ApprovalResult)
			require.True(t, ok)
			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, tt.wantCalls, tt.critic.GetCallCount())
			assert.Equal(t, result.Outcome == domain.OutcomeApproved, len(result.Issues) == 0)
		})
	}
}

func TestApprovalMissingTimelineNamesSection(t *testing.T) {
	doc := completeDocument(10_000)
	doc.Timeline = ""
	stage := agents.NewApprovalStage(guardrails.NewPolicy(config.DefaultEngineConfig()), testutil.NewMockCritic())

	out, err := stage.Execute(context.Background(), documentView(doc))
	require.NoError(t, err)
	result := out.(domain.ApprovalResult)
	require.NotEmpty(t, result.Issues)
	assert.True(t, strings.Contains(result.Issues[0], "Timeline"))
}

func TestApprovalCriticFailureIsRetryable(t *testing.T) {
	critic := testutil.NewMockCritic()
	critic.Error = errors.New("connection reset")
	stage := agents.NewApprovalStage(guardrails.NewPolicy(config.DefaultEngineConfig()), critic)

	_, err := stage.Execute(context.Background(), documentView(completeDocument(10)))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
}

func TestApprovalRequiresDocument(t *testing.T) {
	stage := agents.NewApprovalStage(guardrails.NewPolicy(config.DefaultEngineConfig()), testutil.NewMockCritic())
	_, err := stage.Execute(context.Background(), viewFor(testutil.SampleRequest()))
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))
}

func TestApprovalFeedbackRecorded(t *testing.T) {
	critic := testutil.NewMockCritic()
	critic.Result = agents.Critique{Approved: true, Feedback: "  Clear and complete  "}
	stage := agents.NewApprovalStage(guardrails.NewPolicy(config.DefaultEngineConfig()), critic)

	out, err := stage.Execute(context.Background(), documentView(completeDocument(10)))
	require.NoError(t, err)
	assert.Equal(t, "Clear and complete", out.(domain.ApprovalResult).Feedback)
}

// =============================================================================
// GENERATOR CRITIC
// =============================================================================

func TestGeneratorCritic(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantApproved bool
		wantIssues   []string
		wantErr      bool
	}{
		{"approved", testutil.CritiqueResponse(true), true, nil, false},
		{"rejected with issues", testutil.CritiqueResponse(false, "No evaluation criteria"), false, []string{"No evaluation criteria"}, false},
		{"string verdict", `{"approved":"yes","feedback":"ok","issues":"- minor wording"}`, true, []string{"minor wording"}, false},
		{"missing verdict", `{"feedback":"ok"}`, false, nil, true},
		{"not json", "Looks fine to me", false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := testutil.NewMockGenerator().WithResponse(agents.StageApproval, tt.response)
			critic := agents.NewGeneratorCritic(gen)

			c, err := critic.Critique(context.Background(), completeDocument(10))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantApproved, c.Approved)
			if tt.wantIssues == nil {
				assert.Empty(t, c.Issues)
			} else {
				assert.Equal(t, tt.wantIssues, c.Issues)
			}
		})
	}
}

func TestGeneratorCriticPromptIncludesMarkdown(t *testing.T) {
	gen := testutil.NewMockGenerator()
	_, err := agents.NewGeneratorCritic(gen).Critique(context.Background(), completeDocument(10))
	require.NoError(t, err)

	prompt, ok := gen.LastPrompt(agents.StageApproval)
	require.True(t, ok)
	assert.Contains(t, prompt.User, "# REQUEST FOR PROPOSAL: SOFTWARE PROCUREMENT")
}

func TestGeneratorFuncAndCriticFunc(t *testing.T) {
	var gen agents.Generator = agents.GeneratorFunc(func(ctx context.Context, p agents.Prompt) (string, error) {
		return p.Task, nil
	})
	out, err := gen.Generate(context.Background(), agents.Prompt{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, "t", out)

	var critic agents.Critic = agents.CriticFunc(func(ctx context.Context, doc domain.RFPDocument) (agents.Critique, error) {
		return agents.Critique{Approved: doc.Budget < 100}, nil
	})
	c, err := critic.Critique(context.Background(), completeDocument(10))
	require.NoError(t, err)
	assert.True(t, c.Approved)
}
