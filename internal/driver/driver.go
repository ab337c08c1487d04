// internal/driver/driver.go
package driver

import (
	"context"
)

// ElementRef is an opaque handle to an element located by a backend. The core
// only compares handles by identity and never builds one itself.
type ElementRef interface {
	// Describe returns a short, human readable description used in logs.
	Describe() string
}

// Driver is the capability facade the viewport engine needs from the browser
// automation layer. Nothing else about the browser is visible to the core.
type Driver interface {
	// ExecuteScript runs a script body inside the page. The body is a JS function
	// expression; args are passed to it positionally. An ElementRef may only
	// appear as the first argument, where it becomes the element parameter.
	// The returned value is the JSON-decoded result (nil for undefined/null).
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)

	// IsDisplayed reports whether the element is currently rendered visible.
	// It is a query, not a wait.
	IsDisplayed(ctx context.Context, el ElementRef) (bool, error)

	// CaptureScreenshot returns PNG bytes of the current viewport.
	CaptureScreenshot(ctx context.Context) ([]byte, error)
}

// Session is one browser tab as seen by the CLI and the report glue. The core
// only ever receives the embedded Driver.
type Session interface {
	Driver

	ID() string
	Navigate(ctx context.Context, url string) error
	// Find locates the first element matching a CSS selector.
	Find(ctx context.Context, selector string) (ElementRef, error)
	Close(ctx context.Context) error
}

// Browser owns a browser process and hands out independent sessions. Creation
// and teardown of the process live entirely in the backends.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}

// SplitElementArg separates a leading ElementRef from the remaining script
// arguments. Backends use it to bind the element parameter.
func SplitElementArg(args []any) (ElementRef, []any, error) {
	if len(args) == 0 {
		return nil, nil, nil
	}
	el, _ := args[0].(ElementRef)
	rest := args
	if el != nil {
		rest = args[1:]
	}
	for i, a := range rest {
		if _, ok := a.(ElementRef); ok {
			return nil, nil, &ArgumentError{Index: i + 1, Reason: "element handles are only supported as the first argument"}
		}
	}
	return el, rest, nil
}
