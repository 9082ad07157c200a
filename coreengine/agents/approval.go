package agents

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/guardrails"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// fallbackCritiqueIssue is raised when the critic rejects a document without
// naming an issue, so that a rejection always carries at least one issue.
const fallbackCritiqueIssue = "Critique did not approve the document"

// ApprovalStage runs the guardrail policy over the generated document.
// A business rejection or escalation is a normal result, not an error.
type ApprovalStage struct {
	policy *guardrails.Policy
	critic Critic
	opts   stageOptions
}

// NewApprovalStage creates the approval stage.
func NewApprovalStage(policy *guardrails.Policy, critic Critic, opts ...Option) *ApprovalStage {
	o := buildOptions(opts)
	o.logger = o.logger.Bind("stage", StageApproval)
	return &ApprovalStage{policy: policy, critic: critic, opts: o}
}

// Name implements Stage.
func (s *ApprovalStage) Name() string { return StageApproval }

// Status implements Stage.
func (s *ApprovalStage) Status() kernel.Status { return kernel.StatusApproving }

// Execute evaluates the document. The critic is only consulted when every
// required section is present.
func (s *ApprovalStage) Execute(ctx context.Context, view envelope.View) (any, error) {
	ctx, span := tracer.Start(ctx, "stage.approval",
		trace.WithAttributes(attribute.String("procurement.run.id", view.RunID)))
	defer span.End()

	if view.Document == nil {
		err := errs.New(errs.KindInternal, "approval requires a document")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	doc := *view.Document

	var (
		critique Critique
		issues   []string
	)
	if !s.policy.CheckRequiredSections(doc).Fired {
		c, err := s.critic.Critique(ctx, doc)
		if err != nil {
			err = upstreamError(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		critique = c
		issues = critiqueIssues(c)
	}

	result := s.policy.Evaluate(doc, issues)
	result.Feedback = strings.TrimSpace(critique.Feedback)

	for _, rule := range result.Fired() {
		observability.RecordGuardrailFiring(rule)
	}
	span.SetAttributes(
		attribute.String("procurement.outcome", string(result.Outcome)),
		attribute.StringSlice("procurement.rules_fired", result.Fired()),
	)
	span.SetStatus(codes.Ok, string(result.Outcome))

	s.opts.logger.Info("approval_completed",
		"outcome", result.Outcome,
		"issues", len(result.Issues),
		"rules_fired", strings.Join(result.Fired(), ","),
	)
	return result, nil
}

// critiqueIssues returns the issues the critique contributes to rule 3.
func critiqueIssues(c Critique) []string {
	issues := make([]string, 0, len(c.Issues))
	for _, issue := range c.Issues {
		if issue = strings.TrimSpace(issue); issue != "" {
			issues = append(issues, issue)
		}
	}
	if !c.Approved && len(issues) == 0 {
		if fb := strings.TrimSpace(c.Feedback); fb != "" {
			return []string{fb}
		}
		return []string{fallbackCritiqueIssue}
	}
	return issues
}
