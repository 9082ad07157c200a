package commbus

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic at debug level, and failures
// at warn level.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("commbus_message", "category", message.Category(), "type", GetMessageType(message))
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("commbus_message_failed", "type", GetMessageType(message), "error", err)
	} else {
		m.logger.Debug("commbus_message_completed", "type", GetMessageType(message))
	}
	return result, nil
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

// Circuit states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CircuitBreakerState represents the state for circuit breaker.
type CircuitBreakerState struct {
	Failures    int
	LastFailure time.Time
	State       string
}

// CircuitBreakerMiddleware implements the circuit breaker pattern per
// message type.
//
// Protects a failing handler (an SMTP relay that is down, say) by:
//   - Opening circuit after N consecutive failures
//   - Rejecting messages with *CircuitOpenError while open
//   - Letting a single message through once the reset timeout elapses
//   - Closing circuit after success
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	excludedTypes    map[string]struct{}
	states           map[string]*CircuitBreakerState
	logger           Logger
	now              func() time.Time
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a new CircuitBreakerMiddleware.
// A threshold of zero never opens the circuit.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, excludedTypes []string, logger Logger) *CircuitBreakerMiddleware {
	excluded := make(map[string]struct{})
	for _, t := range excludedTypes {
		excluded[t] = struct{}{}
	}
	if logger == nil {
		logger = nopLogger{}
	}

	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		excludedTypes:    excluded,
		states:           make(map[string]*CircuitBreakerState),
		logger:           logger,
		now:              time.Now,
	}
}

// WithClock replaces the clock, for tests.
func (m *CircuitBreakerMiddleware) WithClock(now func() time.Time) *CircuitBreakerMiddleware {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *CircuitBreakerMiddleware) getState(msgType string) *CircuitBreakerState {
	if _, exists := m.states[msgType]; !exists {
		m.states[msgType] = &CircuitBreakerState{State: CircuitClosed}
	}
	return m.states[msgType]
}

// Before checks circuit breaker state.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)
	if _, excluded := m.excludedTypes[msgType]; excluded {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	switch state.State {
	case CircuitOpen:
		if m.now().Sub(state.LastFailure) < m.resetTimeout {
			return nil, &CircuitOpenError{MessageType: msgType, Failures: state.Failures}
		}
		state.State = CircuitHalfOpen
		m.logger.Info("circuit_half_open", "type", msgType)
	case CircuitHalfOpen:
		// A trial call is already in flight.
		return nil, &CircuitOpenError{MessageType: msgType, Failures: state.Failures}
	}

	return message, nil
}

// After updates circuit breaker state based on result.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if _, excluded := m.excludedTypes[msgType]; excluded {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	if err != nil {
		state.Failures++
		state.LastFailure = m.now()

		if state.State == CircuitHalfOpen {
			state.State = CircuitOpen
			m.logger.Warn("circuit_reopened", "type", msgType)
		} else if m.failureThreshold > 0 && state.Failures >= m.failureThreshold {
			state.State = CircuitOpen
			m.logger.Warn("circuit_opened", "type", msgType, "failures", state.Failures)
		}
		return result, nil
	}

	if state.State == CircuitHalfOpen {
		m.logger.Info("circuit_closed", "type", msgType)
	}
	state.State = CircuitClosed
	state.Failures = 0
	return result, nil
}

// GetStates returns current circuit states.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string)
	for k, v := range m.states {
		result[k] = v.State
	}
	return result
}

// Reset resets circuit breaker state for msgType, or for every type when
// msgType is empty.
func (m *CircuitBreakerMiddleware) Reset(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msgType != "" {
		delete(m.states, msgType)
	} else {
		m.states = make(map[string]*CircuitBreakerState)
	}
}

// Ensure all middleware types implement Middleware interface.
var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
