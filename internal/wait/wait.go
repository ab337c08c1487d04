// internal/wait/wait.go
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeoutExceeded is matched by every *TimeoutError.
var ErrTimeoutExceeded = errors.New("timeout exceeded")

// Spec configures a single wait. It is passed per call and never stored.
type Spec struct {
	Timeout  time.Duration
	Interval time.Duration
	// Ignore lists failure kinds (matched with errors.Is) that count as "not yet
	// satisfied" instead of aborting the wait.
	Ignore []error
	// Message is an optional diagnostic carried by the timeout error.
	Message string
}

func (s Spec) validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("wait: timeout must be positive, got %v", s.Timeout)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("wait: poll interval must be positive, got %v", s.Interval)
	}
	return nil
}

func (s Spec) ignores(err error) bool {
	for _, kind := range s.Ignore {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Condition is something the poller evaluates. Eval reports the produced value
// and whether it satisfies the wait.
type Condition[T any] struct {
	// Description is used in diagnostics only.
	Description string
	Eval        func(ctx context.Context) (T, bool, error)
}

// Predicate is the boolean form of a condition.
type Predicate func(ctx context.Context) (bool, error)

// TimeoutError is returned when the condition was never satisfied in time.
type TimeoutError struct {
	Message     string
	Description string
	Timeout     time.Duration
	Attempts    int
	// Last is the most recent ignored failure, if any.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %v waiting for %s (%d attempts)", e.Timeout, e.Description, e.Attempts)
	if e.Message != "" {
		msg = e.Message + ": " + msg
	}
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeoutExceeded }

func (e *TimeoutError) Unwrap() error { return e.Last }

// errUnsatisfied marks an evaluation that ran cleanly but did not hold.
var errUnsatisfied = errors.New("condition not satisfied")

// deadlineBackOff spaces evaluations by the wrapped policy and shortens the
// last gap so one evaluation lands on the deadline. After that it stops.
type deadlineBackOff struct {
	backoff.BackOff
	deadline time.Time
}

func (d *deadlineBackOff) NextBackOff() time.Duration {
	remaining := time.Until(d.deadline)
	if remaining <= 0 {
		return backoff.Stop
	}
	next := d.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	return min(next, remaining)
}

// Poll evaluates cond immediately and then every spec.Interval until it is
// satisfied, spec.Timeout elapses, an unignored failure occurs or ctx is done.
// The final evaluation happens at the deadline, so a wait never gives up early.
func Poll[T any](ctx context.Context, spec Spec, cond Condition[T]) (T, error) {
	var zero T
	if err := spec.validate(); err != nil {
		return zero, err
	}
	if cond.Eval == nil {
		return zero, errors.New("wait: condition has no evaluator")
	}

	policy := &deadlineBackOff{
		BackOff:  backoff.NewConstantBackOff(spec.Interval),
		deadline: time.Now().Add(spec.Timeout),
	}

	var (
		result   T
		last     error
		fatal    error
		attempts int
	)
	operation := func() error {
		attempts++
		v, ok, err := cond.Eval(ctx)
		switch {
		case err != nil && !spec.ignores(err):
			fatal = err
			return backoff.Permanent(err)
		case err != nil:
			last = err
			return err
		case ok:
			result = v
			return nil
		}
		return errUnsatisfied
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		return result, nil
	case fatal != nil:
		return zero, fatal
	case ctx.Err() != nil:
		return zero, ctx.Err()
	}
	return zero, &TimeoutError{
		Message:     spec.Message,
		Description: cond.Description,
		Timeout:     spec.Timeout,
		Attempts:    attempts,
		Last:        last,
	}
}

// Until waits for a boolean predicate to return true.
func Until(ctx context.Context, spec Spec, description string, pred Predicate) error {
	_, err := Poll(ctx, spec, Condition[bool]{
		Description: description,
		Eval: func(ctx context.Context) (bool, bool, error) {
			ok, err := pred(ctx)
			return ok, ok, err
		},
	})
	return err
}
