// Package errs defines the error taxonomy for workflow stages.
//
// Every failure a stage can produce is a *StageError carrying a Kind. Callers
// match on kind with errors.Is against the sentinels below:
//
//	if errors.Is(err, errs.ErrUpstreamUnavailable) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure.
type Kind string

const (
	// KindUpstreamUnavailable means the generation capability could not be
	// reached or did not answer in time. It is the only retryable kind.
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	// KindClassificationUnparseable means the classification output was not
	// a valid category.
	KindClassificationUnparseable Kind = "ClassificationUnparseable"
	// KindIncompleteDocument means the generated document could not be used.
	KindIncompleteDocument Kind = "IncompleteDocument"
	// KindDuplicateStageOutput means a stage tried to fill an occupied slot.
	KindDuplicateStageOutput Kind = "DuplicateStageOutput"
	// KindRetriesExhausted wraps the last retryable failure once retries run out.
	KindRetriesExhausted Kind = "RetriesExhausted"
	// KindCancelled means the caller cancelled the run.
	KindCancelled Kind = "Cancelled"
	// KindInvalidRequest means the request failed validation before any stage ran.
	KindInvalidRequest Kind = "InvalidRequest"
	// KindInternal covers stage panics and illegal state transitions.
	KindInternal Kind = "Internal"
)

// Retryable reports whether a failure of this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindUpstreamUnavailable
}

// Sentinels for errors.Is matching. A *StageError matches the sentinel of its kind.
var (
	ErrUpstreamUnavailable       = &StageError{Kind: KindUpstreamUnavailable}
	ErrClassificationUnparseable = &StageError{Kind: KindClassificationUnparseable}
	ErrIncompleteDocument        = &StageError{Kind: KindIncompleteDocument}
	ErrDuplicateStageOutput      = &StageError{Kind: KindDuplicateStageOutput}
	ErrRetriesExhausted          = &StageError{Kind: KindRetriesExhausted}
	ErrCancelled                 = &StageError{Kind: KindCancelled}
	ErrInvalidRequest            = &StageError{Kind: KindInvalidRequest}
	ErrInternal                  = &StageError{Kind: KindInternal}
)

// StageError is the error type produced by stages and the engine.
type StageError struct {
	Kind    Kind
	Stage   string
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// Is matches any *StageError of the same kind.
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithStage returns a copy of e attributed to stage, unless already attributed.
func (e *StageError) WithStage(stage string) *StageError {
	if e.Stage != "" {
		return e
	}
	cp := *e
	cp.Stage = stage
	return &cp
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// New creates a StageError of the given kind.
func New(kind Kind, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a StageError of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// UpstreamUnavailable wraps a capability failure.
func UpstreamUnavailable(cause error) *StageError {
	return &StageError{Kind: KindUpstreamUnavailable, Cause: cause}
}

// RetriesExhausted wraps the final retryable failure.
func RetriesExhausted(cause error, attempts int) *StageError {
	return &StageError{
		Kind:    KindRetriesExhausted,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
		Cause:   cause,
	}
}

// Cancelled records a cancellation observed at a stage boundary.
func Cancelled(cause error) *StageError {
	return &StageError{Kind: KindCancelled, Cause: cause}
}

// =============================================================================
// INSPECTION
// =============================================================================

// As extracts the outermost *StageError from err.
func As(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost *StageError in err's chain,
// or KindInternal when err carries none.
func KindOf(err error) Kind {
	if se, ok := As(err); ok {
		return se.Kind
	}
	return KindInternal
}

// Retryable reports whether err is a retryable stage failure.
func Retryable(err error) bool {
	se, ok := As(err)
	return ok && se.Kind.Retryable()
}
