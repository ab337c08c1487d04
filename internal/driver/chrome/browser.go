// internal/driver/chrome/browser.go
package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/observability"
)

// Browser owns one Chrome process driven over the DevTools protocol. Each
// session is a separate tab.
type Browser struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

var _ driver.Browser = (*Browser)(nil)

var errBrowserClosed = errors.New("browser is closed")

// Launch starts Chrome. The process outlives ctx; call Close to stop it.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	log := logger.Named("chrome")
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	if err := startOn(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	log.Info("Browser started.", zap.Bool("headless", cfg.Headless))
	return &Browser{
		cfg:           cfg,
		logger:        log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sessions:      make(map[string]*Session),
	}, nil
}

func (b *Browser) NewSession(ctx context.Context) (driver.Session, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errBrowserClosed
	}

	id := uuid.NewString()
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	s := &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		nav:    b.cfg.NavigationTimeout,
		find:   b.cfg.FindTimeout,
		logger: observability.SessionLogger(b.logger, config.DriverChromedp, id),
		onDone: b.forget,
	}

	w, h := b.cfg.ViewportSize()
	if err := startOn(ctx, tabCtx, chromedp.EmulateViewport(int64(w), int64(h))); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		cancel()
		return nil, errBrowserClosed
	}
	b.sessions[id] = s
	return s, nil
}

// runFn is chromedp.Run, swapped out in tests.
var runFn = chromedp.Run

// startOn makes the first Run on target itself. chromedp ties the browser
// process and the tab's event loop to the context of the first Run, so that
// context must live as long as the target. ctx only bounds the wait; on
// expiry the caller cancels target, which ends the Run.
func startOn(ctx, target context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- runFn(target, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Browser) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// Close closes every open tab and stops the browser process.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	open := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		open = append(open, s)
	}
	b.sessions = map[string]*Session{}
	b.mu.Unlock()

	for _, s := range open {
		s.cancel()
	}

	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil && ctx.Err() == nil {
		b.logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
		return fmt.Errorf("failed to close browser: %w", err)
	}
	b.logger.Info("Browser closed.")
	return nil
}
