// internal/driver/rodx/rodx.go
package rodx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/driver/chrome"
	"github.com/xkilldash9x/snapreport/internal/observability"
)

// NewLauncher prepares a Chrome launcher with the same switches the chromedp
// backend uses.
func NewLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless)
	for k, v := range chrome.Flags(cfg) {
		if k == "headless" {
			continue
		}
		if s, ok := v.(string); ok {
			l = l.Set(flags.Flag(k), s)
		} else {
			l = l.Set(flags.Flag(k))
		}
	}
	w, h := cfg.ViewportSize()
	l = l.Set("window-size", fmt.Sprintf("%d,%d", w, h))
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	return l
}

// Browser is a Chrome process controlled through rod.
type Browser struct {
	cfg      config.BrowserConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

var _ driver.Browser = (*Browser)(nil)

// Launch starts Chrome and connects to it.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	log := logger.Named("rod")
	l := NewLauncher(cfg).Context(context.WithoutCancel(ctx))
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	log.Info("Browser started.", zap.Bool("headless", cfg.Headless))
	return &Browser{
		cfg:      cfg,
		launcher: l,
		browser:  b,
		logger:   log,
		sessions: make(map[string]*Session),
	}, nil
}

func (b *Browser) NewSession(ctx context.Context) (driver.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("browser is closed")
	}

	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	w, h := b.cfg.ViewportSize()
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: w, Height: h, DeviceScaleFactor: 1}); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to size page: %w", err)
	}

	id := uuid.NewString()
	s := &Session{
		id:     id,
		page:   page,
		nav:    b.cfg.NavigationTimeout,
		find:   b.cfg.FindTimeout,
		logger: observability.SessionLogger(b.logger, config.DriverRod, id),
		onDone: b.forget,
	}
	b.sessions[id] = s
	return s, nil
}

func (b *Browser) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// Close closes the browser and removes the launcher's temporary profile.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.sessions = map[string]*Session{}
	b.mu.Unlock()

	err := b.browser.Context(ctx).Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	if err != nil {
		b.logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
		return fmt.Errorf("failed to close browser: %w", err)
	}
	b.logger.Info("Browser closed.")
	return nil
}

// Element is a remote element handle held by rod.
type Element struct {
	el       *rod.Element
	selector string
}

var _ driver.ElementRef = (*Element)(nil)

func (e *Element) Describe() string {
	return fmt.Sprintf("%s (object %s)", e.selector, e.el.Object.ObjectID)
}

// Session is one rod page.
type Session struct {
	id     string
	page   *rod.Page
	nav    time.Duration
	find   time.Duration
	logger *zap.Logger
	onDone func(string)
}

var _ driver.Session = (*Session)(nil)

func (s *Session) ID() string { return s.id }

func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.nav)
	defer p.CancelTimeout()
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for %s to load: %w", url, err)
	}
	s.logger.Debug("Navigated.", zap.String("url", url))
	return nil
}

func (s *Session) Find(ctx context.Context, selector string) (driver.ElementRef, error) {
	p := s.page.Context(ctx).Timeout(s.find)
	defer p.CancelTimeout()
	el, err := p.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %q not found: %w", selector, err)
	}
	// Every later call rebinds the handle to its own ctx.
	return &Element{el: el, selector: selector}, nil
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	el, rest, err := driver.SplitElementArg(args)
	if err != nil {
		return nil, err
	}

	jsArgs := rest
	if el != nil {
		e, err := s.element(el)
		if err != nil {
			return nil, err
		}
		jsArgs = append([]any{e.el.Object}, rest...)
	}

	res, err := s.page.Context(ctx).Evaluate(rod.Eval(script, jsArgs...).ByPromise())
	if err != nil {
		return nil, classify("execute script", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable result: %v", driver.ErrScriptExecution, err)
	}
	return driver.DecodeResult(raw)
}

func (s *Session) IsDisplayed(ctx context.Context, el driver.ElementRef) (bool, error) {
	e, err := s.element(el)
	if err != nil {
		return false, err
	}
	visible, err := e.el.Context(ctx).Visible()
	if err != nil {
		return false, classify("is displayed", err)
	}
	return visible, nil
}

func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	png, err := s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return png, nil
}

func (s *Session) Close(ctx context.Context) error {
	defer func() {
		if s.onDone != nil {
			s.onDone(s.id)
		}
	}()
	if err := s.page.Context(ctx).Close(); err != nil {
		return fmt.Errorf("failed to close page: %w", err)
	}
	s.logger.Debug("Session closed.")
	return nil
}

func (s *Session) element(el driver.ElementRef) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e.el == nil {
		return nil, &driver.ArgumentError{Index: 0, Reason: fmt.Sprintf("element %T does not belong to the rod backend", el)}
	}
	return e, nil
}

// classify maps rod's typed errors before falling back to message matching.
func classify(op string, err error) error {
	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w: %v", op, driver.ErrStaleElement, err)
	}
	var evalErr *rod.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%s: %w: %v", op, driver.ErrScriptExecution, err)
	}
	return driver.Classify(op, err)
}
