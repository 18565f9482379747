package errors

import (
	"fmt"
	"runtime/debug"
)

// panicError marks a recovered panic as non-retryable so retry loops
// surface it immediately instead of re-running the handler.
type panicError struct {
	Err *Error
}

func (p *panicError) Error() string { return p.Err.Error() }

func (p *panicError) IsFatal() bool { return true }

func (p *panicError) Unwrap() error { return p.Err }

// RecoverPanic converts a recovered panic value into an error carrying
// the stack trace.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	case string:
		cause = fmt.Errorf("panic: %s", v)
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	return &panicError{
		Err: ErrInternal.
			WithCause(cause).
			WithDetail("panic", true).
			WithDetail("stack_trace", string(debug.Stack())),
	}
}
