// Package kernel holds the workflow state machine, the panic-recovery
// helpers the engine runs stages under and the submission rate limiter.
//
// Key concepts:
//   - Status: run lifecycle states (Pending -> Classifying -> Generating -> Approving -> terminal)
//   - transition table: the only moves a run may make
//   - SafeExecuteWithResult / SafeGo: recover stage panics into errors
//   - RateLimiter: per-requester sliding windows shared by the submission surfaces
package kernel

import (
	"fmt"
	"slices"
)

// =============================================================================
// Run States
// =============================================================================

// Status is the lifecycle state of a workflow run.
// State transitions:
//
//	Pending -> Classifying -> Generating -> Approving -> (Approved | Rejected | Escalated)
//	Pending | Classifying | Generating | Approving -> Failed
type Status string

const (
	// StatusPending is a run that has been created but not started.
	StatusPending Status = "Pending"
	// StatusClassifying is a run inside the classification stage.
	StatusClassifying Status = "Classifying"
	// StatusGenerating is a run inside the document generation stage.
	StatusGenerating Status = "Generating"
	// StatusApproving is a run inside the approval stage.
	StatusApproving Status = "Approving"
	// StatusApproved is a run whose document passed every guardrail.
	StatusApproved Status = "Approved"
	// StatusRejected is a run whose document was turned down.
	StatusRejected Status = "Rejected"
	// StatusEscalated is a run that needs a human decision.
	StatusEscalated Status = "Escalated"
	// StatusFailed is a run that stopped on an error.
	StatusFailed Status = "Failed"
)

// transitions is the fixed table of legal moves. Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusPending:     {StatusClassifying, StatusFailed},
	StatusClassifying: {StatusGenerating, StatusFailed},
	StatusGenerating:  {StatusApproving, StatusFailed},
	StatusApproving:   {StatusApproved, StatusRejected, StatusEscalated, StatusFailed},
}

// IsTerminal returns true if no transition leaves this state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusEscalated, StatusFailed:
		return true
	}
	return false
}

// IsValid returns true if s is a known state.
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusClassifying || s == StatusGenerating ||
		s == StatusApproving || s.IsTerminal()
}

// Next returns the states reachable from s in one move.
func (s Status) Next() []Status {
	return slices.Clone(transitions[s])
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// AllStatuses returns every state in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusClassifying, StatusGenerating, StatusApproving,
		StatusApproved, StatusRejected, StatusEscalated, StatusFailed,
	}
}

// =============================================================================
// Transition Errors
// =============================================================================

// IllegalTransitionError is returned when a move is not in the table.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// CheckTransition returns an *IllegalTransitionError when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}
