package domain

// ApprovalOutcome is the decision reached by the approval stage.
type ApprovalOutcome string

const (
	OutcomeApproved  ApprovalOutcome = "Approved"
	OutcomeRejected  ApprovalOutcome = "Rejected"
	OutcomeEscalated ApprovalOutcome = "Escalated"
)

// Guardrail rule names, in evaluation order.
const (
	RuleRequiredSections = "required_sections"
	RuleBudgetThreshold  = "budget_threshold"
	RuleCritique         = "critique"
)

// RuleTrace records what one guardrail rule observed.
// It carries no timestamps so that evaluating the same input twice yields
// identical traces.
type RuleTrace struct {
	Rule      string   `json:"rule"`
	Fired     bool     `json:"fired"`
	Skipped   bool     `json:"skipped,omitempty"`
	Observed  string   `json:"observed,omitempty"`
	Threshold string   `json:"threshold,omitempty"`
	Issues    []string `json:"issues,omitempty"`
}

// ApprovalResult is the output of the approval stage.
// Issues is empty if and only if Outcome is OutcomeApproved.
type ApprovalResult struct {
	Outcome  ApprovalOutcome `json:"outcome"`
	Issues   []string        `json:"issues"`
	Trace    []RuleTrace     `json:"trace"`
	Feedback string          `json:"feedback,omitempty"`
}

// Clone returns a deep copy of the result.
func (a ApprovalResult) Clone() ApprovalResult {
	out := a
	if a.Issues != nil {
		out.Issues = append([]string(nil), a.Issues...)
	}
	if a.Trace != nil {
		out.Trace = make([]RuleTrace, len(a.Trace))
		for i, t := range a.Trace {
			t.Issues = append([]string(nil), t.Issues...)
			out.Trace[i] = t
		}
	}
	return out
}

// Fired returns the names of the rules that fired.
func (a ApprovalResult) Fired() []string {
	var fired []string
	for _, t := range a.Trace {
		if t.Fired {
			fired = append(fired, t.Rule)
		}
	}
	return fired
}
