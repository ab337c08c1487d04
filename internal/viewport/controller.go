// internal/viewport/controller.go
package viewport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/scripts"
	"github.com/xkilldash9x/snapreport/internal/wait"
)

// State is a step of a scroll-into-view run.
type State int

const (
	StateIdle State = iota
	StateScrolling
	StateAwaitingViewportConfirmation
	StateHighlighting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScrolling:
		return "scrolling"
	case StateAwaitingViewportConfirmation:
		return "awaiting_viewport_confirmation"
	case StateHighlighting:
		return "highlighting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Visibility is the answer to the up-front displayed check.
type Visibility int

const (
	Displayed Visibility = iota
	NotDisplayed
)

// Confirmation is the result of one viewport confirmation window.
type Confirmation int

const (
	Confirmed Confirmation = iota
	TimedOut
)

// Options tunes a Controller. Zero fields take the defaults.
type Options struct {
	MaxAttempts    int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// DefaultOptions returns five attempts, each confirmed for up to 3s polled
// every 500ms.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		ConfirmTimeout: 3 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = d.ConfirmTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// Outcome reports where a run ended and how many attempts it spent.
type Outcome struct {
	State    State
	Attempts int
}

// Controller centres an element in the viewport, confirms it is fully
// visible and optionally highlights it.
type Controller struct {
	drv         driver.Driver
	scripts     scripts.Repository
	highlighter *Highlighter
	opts        Options
	logger      *zap.Logger

	// observe, when set, sees every state transition. Used by tests and
	// debug tracing.
	observe func(from, to State)
}

// NewController wires a controller to the session's highlighter.
func NewController(drv driver.Driver, repo scripts.Repository, h *Highlighter, opts Options, logger *zap.Logger) *Controller {
	return &Controller{
		drv:         drv,
		scripts:     repo,
		highlighter: h,
		opts:        opts.withDefaults(),
		logger:      logger.Named("scroll"),
	}
}

// OnTransition registers fn to be called on every state change.
func (c *Controller) OnTransition(fn func(from, to State)) { c.observe = fn }

// Options returns the effective options.
func (c *Controller) Options() Options { return c.opts }

type run struct {
	c     *Controller
	el    driver.ElementRef
	state State
}

func (r *run) to(next State) {
	prev := r.state
	r.state = next
	r.c.logger.Debug("Scroll state transition.",
		zap.String("element", r.el.Describe()),
		zap.Stringer("from", prev),
		zap.Stringer("to", next))
	if r.c.observe != nil {
		r.c.observe(prev, next)
	}
}

// ScrollIntoMiddle scrolls el to the centre of the viewport, waits until it is
// fully visible and, when highlight is set, highlights it. A scroll failure or
// confirmation timeout is retried until MaxAttempts cycles are spent; an
// element that is not displayed, a highlight failure and cancellation of ctx
// end the run at once.
func (c *Controller) ScrollIntoMiddle(ctx context.Context, el driver.ElementRef, highlight bool) (Outcome, error) {
	r := &run{c: c, el: el, state: StateIdle}
	fail := func(attempts int, err error) (Outcome, error) {
		r.to(StateFailed)
		return Outcome{State: StateFailed, Attempts: attempts}, err
	}

	vis, err := c.visibility(ctx, el)
	if vis == NotDisplayed {
		return fail(0, err)
	}

	scrollBody, err := c.scripts.Get(scripts.ScrollElementIntoMiddle)
	if err != nil {
		return fail(0, fmt.Errorf("failed to load scroll script: %w", err))
	}
	inView, err := InViewport(c.drv, c.scripts, el)
	if err != nil {
		return fail(0, err)
	}

	attempts := 0
	var stop error
	op := func() error {
		attempts++
		err := c.attempt(ctx, r, scrollBody, inView, attempts)
		if err == nil && highlight {
			r.to(StateHighlighting)
			if herr := c.highlighter.Highlight(ctx, el); herr != nil {
				stop = fmt.Errorf("highlight after viewport confirmation: %w", herr)
				return backoff.Permanent(stop)
			}
		}
		if err != nil && ctx.Err() != nil {
			stop = fmt.Errorf("scroll into view aborted: %w", ctx.Err())
			return backoff.Permanent(stop)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		c.logger.Debug("Scroll attempt failed.",
			zap.String("element", el.Describe()),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.opts.MaxAttempts),
			zap.Error(err))
	}

	err = backoff.RetryNotify(op, c.retryPolicy(ctx), notify)
	switch {
	case err == nil:
		r.to(StateDone)
		return Outcome{State: StateDone, Attempts: attempts}, nil
	case stop != nil:
		return fail(attempts, stop)
	case ctx.Err() != nil:
		return fail(attempts, fmt.Errorf("scroll into view aborted: %w", ctx.Err()))
	}

	c.logger.Warn("Could not bring element into the viewport.",
		zap.String("element", el.Describe()),
		zap.Int("attempts", attempts))
	return fail(attempts, &RetryExhaustedError{Attempts: attempts, Last: err})
}

// retryPolicy allows MaxAttempts scroll+confirm cycles back to back. The
// confirmation window already spaces them out.
func (c *Controller) retryPolicy(ctx context.Context) backoff.BackOffContext {
	retries := uint64(max(c.opts.MaxAttempts-1, 0))
	return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, retries), ctx)
}

// visibility runs the displayed check. Any failure counts as not displayed.
func (c *Controller) visibility(ctx context.Context, el driver.ElementRef) (Visibility, error) {
	shown, err := c.drv.IsDisplayed(ctx, el)
	switch {
	case err != nil:
		return NotDisplayed, fmt.Errorf("%w: %s: %w", ErrElementNotDisplayed, el.Describe(), err)
	case !shown:
		return NotDisplayed, fmt.Errorf("%w: %s", ErrElementNotDisplayed, el.Describe())
	}
	return Displayed, nil
}

// attempt performs one scroll+confirm cycle.
func (c *Controller) attempt(ctx context.Context, r *run, scrollBody string, inView wait.Predicate, n int) error {
	r.to(StateScrolling)
	if _, err := c.drv.ExecuteScript(ctx, scrollBody, r.el); err != nil {
		return fmt.Errorf("attempt %d: scroll failed: %w", n, err)
	}

	r.to(StateAwaitingViewportConfirmation)
	conf, err := c.confirm(ctx, inView)
	if conf == Confirmed {
		return nil
	}
	return fmt.Errorf("attempt %d: %w", n, err)
}

func (c *Controller) confirm(ctx context.Context, inView wait.Predicate) (Confirmation, error) {
	spec := wait.Spec{
		Timeout:  c.opts.ConfirmTimeout,
		Interval: c.opts.PollInterval,
		Ignore:   []error{driver.ErrStaleElement},
		Message:  "element did not settle in the viewport",
	}
	err := wait.Until(ctx, spec, ViewportDescription, inView)
	switch {
	case err == nil:
		return Confirmed, nil
	case errors.Is(err, wait.ErrTimeoutExceeded):
		return TimedOut, fmt.Errorf("%w: %w", ErrViewportConfirmationTimeout, err)
	default:
		return TimedOut, fmt.Errorf("viewport check failed: %w", err)
	}
}
