// internal/driver/errors.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaleElement means the handle no longer maps to a live DOM node, usually
	// after navigation or a DOM rewrite.
	ErrStaleElement = errors.New("stale element reference")

	// ErrScriptExecution means the injected script threw or the driver rejected
	// the call.
	ErrScriptExecution = errors.New("script execution failed")
)

// ArgumentError reports a script argument the backend cannot marshal.
type ArgumentError struct {
	Index  int
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid script argument %d: %s", e.Index, e.Reason)
}

// Is lets ArgumentError match ErrScriptExecution.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrScriptExecution
}

// staleMarkers are the messages the supported protocols use when a node or its
// execution context has gone away.
var staleMarkers = []string{
	"no node with given id",
	"could not find node with given id",
	"cannot find context with specified id",
	"node with given id does not belong to the document",
	"cannot find object with id",
	"element is not attached to the dom",
	"jshandle is disposed",
	"elementhandle is disposed",
	"execution context was destroyed",
	"stale element reference",
}

// IsStaleMessage reports whether a backend error message describes a stale
// element reference.
func IsStaleMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range staleMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Classify wraps a raw backend error with the matching failure kind. Errors that
// already carry a kind are returned unchanged, as is nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStaleElement) || errors.Is(err, ErrScriptExecution) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if IsStaleMessage(err.Error()) {
		return fmt.Errorf("%s: %w: %v", op, ErrStaleElement, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrScriptExecution, err)
}
