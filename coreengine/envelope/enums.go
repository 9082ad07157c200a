// Package envelope provides RunState, the per-run container the engine owns.
//
// A RunState carries the request, one output slot per stage, the append-only
// transition log and the terminal status. Stages only ever see a View, which
// is a copy taken when their attempt starts.
package envelope

// AttemptOutcome records how a single stage attempt ended.
type AttemptOutcome string

const (
	// OutcomeSuccess means the attempt produced an output that was merged.
	OutcomeSuccess AttemptOutcome = "success"
	// OutcomeRetry means the attempt failed with a retryable error and another attempt follows.
	OutcomeRetry AttemptOutcome = "retry"
	// OutcomeFailed means the attempt failed and the run moves to Failed.
	OutcomeFailed AttemptOutcome = "failed"
	// OutcomeCancelled means the run was cancelled before the stage could start.
	OutcomeCancelled AttemptOutcome = "cancelled"
)

// PostTerminalKind names something that happened after the run reached a terminal state.
type PostTerminalKind string

const (
	// PostTerminalDelivery is the hand-off of an approved document to its recipients.
	PostTerminalDelivery PostTerminalKind = "delivery"
)
