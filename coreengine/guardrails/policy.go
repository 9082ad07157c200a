// Package guardrails evaluates an RFP document against the approval rules.
//
// Rules run in a fixed order:
//
//  1. required sections: any missing section rejects the document and stops evaluation
//  2. budget threshold: a budget above the ceiling forces escalation
//  3. critique: issues raised by the critique capability are appended verbatim
//
// The final outcome is Rejected if rule 1 fired, else Escalated if rule 2
// fired, else Approved when rule 3 raised nothing, else Rejected.
//
// Evaluation is pure: the same document and critique issues always give an
// identical ApprovalResult.
package guardrails

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jeeves-cluster-organization/procurement/coreengine/config"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
)

// Policy holds the thresholds the rules compare against. It is immutable
// and safe to share between concurrent runs.
type Policy struct {
	ceiling  float64
	required []domain.Section
}

// NewPolicy builds a policy from engine configuration.
func NewPolicy(cfg *config.EngineConfig) *Policy {
	return &Policy{
		ceiling:  cfg.AutoApprovalCeiling,
		required: append([]domain.Section(nil), cfg.RequiredSections...),
	}
}

// Ceiling returns the auto-approval budget ceiling.
func (p *Policy) Ceiling() float64 { return p.ceiling }

// RequiredSections returns a copy of the required section list.
func (p *Policy) RequiredSections() []domain.Section {
	return append([]domain.Section(nil), p.required...)
}

// CheckRequiredSections runs rule 1 alone. Callers use it to decide whether
// the critique capability needs to be consulted at all.
func (p *Policy) CheckRequiredSections(doc domain.RFPDocument) domain.RuleTrace {
	missing := doc.MissingSections(p.required)
	trace := domain.RuleTrace{
		Rule:      domain.RuleRequiredSections,
		Fired:     len(missing) > 0,
		Threshold: joinSections(p.required),
	}
	if len(missing) == 0 {
		trace.Observed = "all present"
		return trace
	}
	trace.Observed = "missing " + joinSections(missing)
	for _, s := range missing {
		trace.Issues = append(trace.Issues, fmt.Sprintf("Missing required section: %s", s))
	}
	return trace
}

// Evaluate applies every rule to doc. critiqueIssues are the issues the
// critique capability raised; they are ignored when rule 1 fires.
func (p *Policy) Evaluate(doc domain.RFPDocument, critiqueIssues []string) domain.ApprovalResult {
	sections := p.CheckRequiredSections(doc)
	if sections.Fired {
		return domain.ApprovalResult{
			Outcome: domain.OutcomeRejected,
			Issues:  append([]string(nil), sections.Issues...),
			Trace: []domain.RuleTrace{
				sections,
				{Rule: domain.RuleBudgetThreshold, Skipped: true},
				{Rule: domain.RuleCritique, Skipped: true},
			},
		}
	}

	budget := p.checkBudget(doc)
	critique := checkCritique(critiqueIssues)

	issues := make([]string, 0, len(budget.Issues)+len(critique.Issues))
	issues = append(issues, budget.Issues...)
	issues = append(issues, critique.Issues...)

	outcome := domain.OutcomeApproved
	switch {
	case budget.Fired:
		outcome = domain.OutcomeEscalated
	case critique.Fired:
		outcome = domain.OutcomeRejected
	}
	if outcome == domain.OutcomeApproved {
		issues = nil
	}

	return domain.ApprovalResult{
		Outcome: outcome,
		Issues:  issues,
		Trace:   []domain.RuleTrace{sections, budget, critique},
	}
}

func (p *Policy) checkBudget(doc domain.RFPDocument) domain.RuleTrace {
	trace := domain.RuleTrace{
		Rule:      domain.RuleBudgetThreshold,
		Observed:  formatNumber(doc.Budget),
		Threshold: formatNumber(p.ceiling),
	}
	if doc.Budget > p.ceiling {
		trace.Fired = true
		trace.Issues = []string{fmt.Sprintf(
			"Budget %s exceeds auto-approval ceiling %s; escalated for human review",
			formatNumber(doc.Budget), formatNumber(p.ceiling))}
	}
	return trace
}

func checkCritique(critiqueIssues []string) domain.RuleTrace {
	trace := domain.RuleTrace{Rule: domain.RuleCritique}
	for _, issue := range critiqueIssues {
		if strings.TrimSpace(issue) == "" {
			continue
		}
		trace.Issues = append(trace.Issues, issue)
	}
	trace.Fired = len(trace.Issues) > 0
	trace.Observed = strconv.Itoa(len(trace.Issues)) + " issue(s)"
	return trace
}

func joinSections(sections []domain.Section) string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
