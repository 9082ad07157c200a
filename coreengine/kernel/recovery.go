package kernel

import (
	"fmt"
	"runtime/debug"
)

// Logger is the logging surface the recovery helpers need.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// PanicError is returned in place of a recovered panic.
type PanicError struct {
	Operation string
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.Value)
}

func recovered(logger Logger, event, operation string, r any) *PanicError {
	stack := string(debug.Stack())
	if logger != nil {
		logger.Error(event,
			"operation", operation,
			"panic", r,
			"stack", stack,
		)
	}
	return &PanicError{Operation: operation, Value: r, Stack: stack}
}

// SafeExecute executes a function with panic recovery.
// If the function panics, the panic is logged and a *PanicError is returned.
func SafeExecute(logger Logger, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(logger, "panic_recovered", operation, r)
		}
	}()
	return fn()
}

// SafeExecuteWithResult executes a function with panic recovery and returns both result and error.
// On panic the zero value of T is returned alongside a *PanicError.
func SafeExecuteWithResult[T any](logger Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = recovered(logger, "panic_recovered", operation, r)
		}
	}()
	return fn()
}

// SafeGo runs fn on a new goroutine with panic recovery.
// If the goroutine panics, onPanic receives the *PanicError.
func SafeGo(logger Logger, operation string, fn func(), onPanic func(*PanicError)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				perr := recovered(logger, "goroutine_panic_recovered", operation, r)
				if onPanic != nil {
					onPanic(perr)
				}
			}
		}()
		fn()
	}()
}
