package commbus

import (
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// NoHandlerError is returned when no handler is registered for a message type.
type NoHandlerError struct {
	MessageType string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for %s", e.MessageType)
}

// NewNoHandlerError creates a new NoHandlerError.
func NewNoHandlerError(messageType string) *NoHandlerError {
	return &NoHandlerError{MessageType: messageType}
}

// HandlerAlreadyRegisteredError is returned when registering a duplicate handler.
type HandlerAlreadyRegisteredError struct {
	MessageType string
}

func (e *HandlerAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("handler already registered for %s", e.MessageType)
}

// NewHandlerAlreadyRegisteredError creates a new HandlerAlreadyRegisteredError.
func NewHandlerAlreadyRegisteredError(messageType string) *HandlerAlreadyRegisteredError {
	return &HandlerAlreadyRegisteredError{MessageType: messageType}
}

// QueryTimeoutError is returned when a query times out.
type QueryTimeoutError struct {
	MessageType string
	Timeout     float64
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query %s timed out after %.2fs", e.MessageType, e.Timeout)
}

// NewQueryTimeoutError creates a new QueryTimeoutError.
func NewQueryTimeoutError(messageType string, timeout float64) *QueryTimeoutError {
	return &QueryTimeoutError{MessageType: messageType, Timeout: timeout}
}

// CircuitOpenError is returned when the circuit breaker blocks a message.
type CircuitOpenError struct {
	MessageType string
	Failures    int
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s after %d failures", e.MessageType, e.Failures)
}

// HandlerError wraps a command handler failure.
type HandlerError struct {
	MessageType string
	Cause       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler failed: %v", e.MessageType, e.Cause)
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}
