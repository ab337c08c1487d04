// internal/viewport/errors.go
package viewport

import (
	"errors"
	"fmt"
)

var (
	// ErrElementNotDisplayed is a structural precondition failure and is never
	// retried.
	ErrElementNotDisplayed = errors.New("element not displayed")

	// ErrViewportConfirmationTimeout means a scroll was issued but the browser
	// never confirmed the element inside the viewport in the attempt window.
	ErrViewportConfirmationTimeout = errors.New("viewport confirmation timed out")

	// ErrScrollRetryExhausted is matched by *RetryExhaustedError.
	ErrScrollRetryExhausted = errors.New("scroll retry exhausted")
)

// RetryExhaustedError ends a controller run once MaxAttempts cycles are spent.
// It unwraps to the failure of the final attempt.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("unable to scroll element into viewport after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrScrollRetryExhausted }

func (e *RetryExhaustedError) Unwrap() error { return e.Last }
