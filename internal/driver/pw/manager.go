// internal/driver/pw/manager.go
package pw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/observability"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	launchTimeout            = 60 * time.Second
)

// Manager handles the Playwright driver and the Chromium process. Startup is
// deferred until the first session is requested.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	pw      *playwright.Playwright
	browser playwright.Browser

	sessions map[string]*Session
	mu       sync.Mutex
	wg       sync.WaitGroup

	initOnce sync.Once
	initErr  error
	// install can be replaced in tests.
	install func(...*playwright.RunOptions) error
}

var _ driver.Browser = (*Manager)(nil)

// NewManager creates a manager. Nothing is started yet.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("playwright"),
		sessions: make(map[string]*Session),
		install:  playwright.Install,
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Initializing Playwright and launching browser.")

		if err := m.ensureInstallation(ctx); err != nil {
			m.initErr = err
			return
		}

		pw, err := playwright.Run()
		if err != nil {
			m.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}

		browser, err := pw.Chromium.Launch(LaunchOptions(m.cfg))
		if err != nil {
			_ = pw.Stop()
			m.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}
		m.pw = pw
		m.browser = browser
		m.logger.Info("Browser manager initialized.", zap.String("browser_version", browser.Version()))
	})
	return m.initErr
}

func (m *Manager) ensureInstallation(ctx context.Context) error {
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	// Install blocks without a context, so race it against the deadline.
	errCh := make(chan error, 1)
	go func() {
		if err := m.install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

// LaunchOptions maps cfg onto Chromium launch options. The stability switches
// come first so user arguments can follow them.
func LaunchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	defaultArgs := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--enable-automation",
	}
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     append(defaultArgs, cfg.Args...),
		Timeout:  playwright.Float(float64(launchTimeout.Milliseconds())),
	}
	if cfg.ExecPath != "" {
		opts.ExecutablePath = playwright.String(cfg.ExecPath)
	}
	return opts
}

// ContextOptions returns the per-session browser context options.
func ContextOptions(cfg config.BrowserConfig) playwright.BrowserNewContextOptions {
	w, h := cfg.ViewportSize()
	return playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: w, Height: h},
		IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreTLSErrors),
	}
}

// NewSession opens an isolated browser context with a single page.
func (m *Manager) NewSession(ctx context.Context) (driver.Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	bctx, err := m.browser.NewContext(ContextOptions(m.cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	id := uuid.NewString()
	s := &Session{
		id:     id,
		bctx:   bctx,
		page:   page,
		nav:    m.cfg.NavigationTimeout,
		find:   m.cfg.FindTimeout,
		logger: observability.SessionLogger(m.logger, config.DriverPlaywright, id),
	}

	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sessions, id)
		m.wg.Done()
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Debug("New session created.", zap.String("session_id", id))
	return s, nil
}

// Close closes all sessions, the browser and the Playwright driver. Sessions
// get until ctx is done to close on their own.
func (m *Manager) Close(ctx context.Context) error {
	if m.pw == nil {
		m.logger.Debug("Manager not initialized, nothing to shut down.")
		return nil
	}

	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	var shutdownErr error
	if err := m.browser.Close(); err != nil {
		m.logger.Error("Failed to close browser instance.", zap.Error(err))
		shutdownErr = fmt.Errorf("failed to close browser: %w", err)
	}
	if err := m.pw.Stop(); err != nil {
		m.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
		if shutdownErr == nil {
			shutdownErr = fmt.Errorf("failed to stop playwright driver: %w", err)
		}
	}
	m.logger.Info("Browser manager shutdown complete.")
	return shutdownErr
}
