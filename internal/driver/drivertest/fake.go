// internal/driver/drivertest/fake.go
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/scripts"
)

// HighlightBorder is the border the fake applies for the highlight script.
const HighlightBorder = "3px solid #ff2d55"

// Screenshot is the pseudo script name recorded for CaptureScreenshot calls.
const Screenshot scripts.Name = "<screenshot>"

// Element is an in-memory stand in for a DOM node.
type Element struct {
	Name string

	Border  string
	Hidden  bool
	Stale   bool
	Scrolls int

	// DisplayErr is returned from IsDisplayed when set.
	DisplayErr error
	// InView decides the viewport check from the number of scrolls so far.
	// When nil the element is in view once it has been scrolled at least once.
	InView func(scrolls int) bool
}

func (e *Element) Describe() string { return e.Name }

// Call records one script execution.
type Call struct {
	Script  scripts.Name
	Element string
	Args    []any
}

// Driver executes the known scripts against Elements. Scripts are recognised
// by their body as served by the repository the driver was built from.
type Driver struct {
	mu     sync.Mutex
	bodies map[string]scripts.Name

	calls []Call
	fail  map[scripts.Name][]error

	Image         []byte
	ScreenshotErr error
	Shots         int
}

// New builds a fake that recognises every script served by repo.
func New(repo scripts.Repository) (*Driver, error) {
	d := &Driver{
		bodies: make(map[string]scripts.Name),
		fail:   make(map[scripts.Name][]error),
		Image:  []byte("\x89PNG\r\n\x1a\nfake"),
	}
	for _, n := range scripts.Names() {
		body, err := repo.Get(n)
		if err != nil {
			return nil, err
		}
		d.bodies[body] = n
	}
	return d, nil
}

// FailNext queues errors returned by the next executions of script, one per
// call. A nil entry lets that call through.
func (d *Driver) FailNext(script scripts.Name, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[script] = append(d.fail[script], errs...)
}

// Calls returns a copy of the recorded executions.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Count returns how many times script ran.
func (d *Driver) Count(script scripts.Name) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Script == script {
			n++
		}
	}
	return n
}

func (d *Driver) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, driver.Classify("execute script", err)
	}
	ref, rest, err := driver.SplitElementArg(args)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name, ok := d.bodies[script]
	if !ok {
		return nil, fmt.Errorf("%w: unrecognised script body", driver.ErrScriptExecution)
	}
	el, _ := ref.(*Element)
	call := Call{Script: name, Args: rest}
	if el != nil {
		call.Element = el.Name
	}
	d.calls = append(d.calls, call)

	if q := d.fail[name]; len(q) > 0 {
		d.fail[name] = q[1:]
		if q[0] != nil {
			return nil, q[0]
		}
	}
	if el == nil {
		return nil, fmt.Errorf("%w: script %s needs an element", driver.ErrScriptExecution, name)
	}
	if el.Stale {
		return nil, driver.Classify("execute script", errors.New("No node with given id found"))
	}

	switch name {
	case scripts.IsElementInViewport:
		if el.InView != nil {
			return el.InView(el.Scrolls), nil
		}
		return el.Scrolls > 0, nil
	case scripts.GetElementBorder:
		prev := el.Border
		el.Border = HighlightBorder
		return prev, nil
	case scripts.RemoveElementBorder:
		el.Border = ""
		return "", nil
	case scripts.UnhighlightLastElement:
		border := ""
		if len(rest) > 0 {
			border, _ = rest[0].(string)
		}
		el.Border = border
		return border, nil
	case scripts.ScrollElementIntoMiddle:
		el.Scrolls++
		return true, nil
	}
	return nil, nil
}

func (d *Driver) IsDisplayed(ctx context.Context, ref driver.ElementRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	el, ok := ref.(*Element)
	if !ok || el == nil {
		return false, fmt.Errorf("unexpected element type %T", ref)
	}
	if el.DisplayErr != nil {
		return false, el.DisplayErr
	}
	if el.Stale {
		return false, driver.ErrStaleElement
	}
	return !el.Hidden, nil
}

func (d *Driver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Shots++
	d.calls = append(d.calls, Call{Script: Screenshot})
	if d.ScreenshotErr != nil {
		return nil, d.ScreenshotErr
	}
	return append([]byte(nil), d.Image...), nil
}
