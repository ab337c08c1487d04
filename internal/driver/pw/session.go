// internal/driver/pw/session.go
package pw

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/driver"
)

// Element wraps a Playwright element handle.
type Element struct {
	handle   playwright.ElementHandle
	selector string
}

var _ driver.ElementRef = (*Element)(nil)

func (e *Element) Describe() string { return e.selector }

// Session is one Playwright browser context with a single page.
type Session struct {
	id     string
	bctx   playwright.BrowserContext
	page   playwright.Page
	nav    time.Duration
	find   time.Duration
	logger *zap.Logger

	closeOnce sync.Once
	onClose   func()
}

var _ driver.Session = (*Session)(nil)

func (s *Session) ID() string { return s.id }

// TimeoutMillis converts d into Playwright's millisecond timeout, shortened to
// ctx's deadline when that comes first.
func TimeoutMillis(ctx context.Context, d time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return float64(d.Milliseconds())
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(TimeoutMillis(ctx, s.nav)),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	s.logger.Debug("Navigated.", zap.String("url", url))
	return nil
}

func (s *Session) Find(ctx context.Context, selector string) (driver.ElementRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(TimeoutMillis(ctx, s.find)),
	})
	if err != nil {
		return nil, fmt.Errorf("element %q not found: %w", selector, err)
	}
	if handle == nil {
		return nil, fmt.Errorf("element %q not found", selector)
	}
	return &Element{handle: handle, selector: selector}, nil
}

// EvaluateExpression wraps a script body so Page.Evaluate can spread a
// single argument array over its parameters.
func EvaluateExpression(script string) string {
	return "(args) => (" + strings.TrimSpace(script) + ")(...args)"
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, driver.Classify("execute script", err)
	}
	el, rest, err := driver.SplitElementArg(args)
	if err != nil {
		return nil, err
	}

	arg := make([]any, 0, len(rest)+1)
	if el != nil {
		e, err := s.element(el)
		if err != nil {
			return nil, err
		}
		arg = append(arg, e.handle)
	}
	arg = append(arg, rest...)

	v, err := awaitCall(ctx, func() (any, error) {
		return s.page.Evaluate(EvaluateExpression(script), arg)
	})
	if err != nil {
		return nil, driver.Classify("execute script", err)
	}
	return Normalize(v)
}

// awaitCall runs a context-free Playwright call and stops waiting when ctx is
// done. The abandoned call finishes when its page or context closes.
func awaitCall[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Normalize re-encodes a Playwright result so numbers and containers have the
// same Go types the other backends produce.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: unencodable result: %v", driver.ErrScriptExecution, err)
	}
	return driver.DecodeResult(raw)
}

func (s *Session) IsDisplayed(ctx context.Context, el driver.ElementRef) (bool, error) {
	e, err := s.element(el)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	visible, err := e.handle.IsVisible()
	if err != nil {
		return false, driver.Classify("is displayed", err)
	}
	return visible, nil
}

func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	png, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return png, nil
}

// Close closes the page and its browser context. Only the first call does
// anything.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if perr := s.page.Close(); perr != nil {
			s.logger.Debug("Failed to close page.", zap.Error(perr))
		}
		if cerr := s.bctx.Close(); cerr != nil {
			err = fmt.Errorf("failed to close browser context: %w", cerr)
		}
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Session closed.")
	})
	return err
}

func (s *Session) element(el driver.ElementRef) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e.handle == nil {
		return nil, &driver.ArgumentError{Index: 0, Reason: fmt.Sprintf("element %T does not belong to the playwright backend", el)}
	}
	return e, nil
}
