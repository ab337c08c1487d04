// File: cmd/capture_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/driver/drivertest"
	"github.com/xkilldash9x/snapreport/internal/driver/pw"
	"github.com/xkilldash9x/snapreport/internal/mocks"
	"github.com/xkilldash9x/snapreport/internal/report"
	"github.com/xkilldash9x/snapreport/internal/scripts"
)

// fakeSession is a drivertest.Driver with a page attached.
type fakeSession struct {
	*drivertest.Driver
	id       string
	elements map[string]*drivertest.Element

	mu        sync.Mutex
	navigated []string
	navErr    error
	closed    bool
}

var _ driver.Session = (*fakeSession)(nil)

func newFakeSession(t *testing.T, id string) *fakeSession {
	t.Helper()
	drv, err := drivertest.New(scripts.NewStore(nil, zap.NewNop()))
	require.NoError(t, err)
	return &fakeSession{Driver: drv, id: id, elements: map[string]*drivertest.Element{}}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return s.navErr
}

func (s *fakeSession) Find(ctx context.Context, selector string) (driver.ElementRef, error) {
	if el, ok := s.elements[selector]; ok {
		return el, nil
	}
	return nil, fmt.Errorf("element %q not found", selector)
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type launcherFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Browser, error)

func (f launcherFunc) Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Browser, error) {
	return f(ctx, cfg, logger)
}

type staticSinks struct {
	sink    report.Sink
	err     error
	cleaned bool
}

func (s *staticSinks) Create(context.Context, config.Interface, *zap.Logger) (report.Sink, func(), error) {
	return s.sink, func() { s.cleaned = true }, s.err
}

func newCaptureConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetReportRoot(t.TempDir())
	cfg.ReportCfg.RunFolder = false
	cfg.CaptureCfg = config.CaptureConfig{
		MaxAttempts:     2,
		ViewportTimeout: 50 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}
	return cfg
}

func browserWith(sessions ...driver.Session) *mocks.MockBrowser {
	b := new(mocks.MockBrowser)
	for _, s := range sessions {
		b.On("NewSession", mock.Anything).Return(s, nil).Once()
	}
	b.On("Close", mock.Anything).Return(nil)
	return b
}

func launching(b driver.Browser) launcherFunc {
	return func(context.Context, config.BrowserConfig, *zap.Logger) (driver.Browser, error) {
		return b, nil
	}
}

func TestRunCapture(t *testing.T) {
	t.Run("HighlightedElement", func(t *testing.T) {
		cfg := newCaptureConfig(t)
		sess := newFakeSession(t, "s1")
		el := &drivertest.Element{Name: "#pay"}
		sess.elements["#pay"] = el
		browser := browserWith(sess)

		sink := new(mocks.MockSink)
		sink.On("Attach", mock.Anything, mock.MatchedBy(func(a report.Attachment) bool {
			return a.Node == "checkout" && a.Status == report.StatusInfo && a.Positioned && a.RunID == "run-1"
		})).Return(nil).Once()
		sinks := &staticSinks{sink: sink}

		var out bytes.Buffer
		opts := captureOptions{selector: "#pay", name: "pay button", node: "checkout", highlight: true, runID: "run-1"}
		err := runCapture(context.Background(), zaptest.NewLogger(t), cfg, opts,
			[]string{"https://shop.example/checkout"}, launching(browser), sinks, &out)
		require.NoError(t, err)

		path := strings.TrimSpace(out.String())
		assert.Contains(t, path, "_pay button.png")
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, "the screenshot is on disk")

		assert.Equal(t, []string{"https://shop.example/checkout"}, sess.navigated)
		assert.Equal(t, 1, sess.Count(scripts.GetElementBorder), "highlighted once")
		assert.Empty(t, el.Border, "original border restored after the capture")
		assert.True(t, sess.closed)
		assert.True(t, sinks.cleaned)
		sink.AssertExpectations(t)
		browser.AssertExpectations(t)
	})

	t.Run("MissingElementFailsNode", func(t *testing.T) {
		cfg := newCaptureConfig(t)
		sess := newFakeSession(t, "s1")
		browser := browserWith(sess)

		sink := new(mocks.MockSink)
		sink.On("Attach", mock.Anything, mock.MatchedBy(func(a report.Attachment) bool {
			return a.Status == report.StatusFail && strings.Contains(a.Message, "#gone") &&
				strings.HasSuffix(a.Path, "_shop.example_failure.png")
		})).Return(nil).Once()

		var out bytes.Buffer
		err := runCapture(context.Background(), zaptest.NewLogger(t), cfg, captureOptions{selector: "#gone"},
			[]string{"https://shop.example/"}, launching(browser), &staticSinks{sink: sink}, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 1 captures failed")
		assert.Empty(t, out.String())
		assert.Equal(t, 1, sess.Shots, "the failure carries a viewport screenshot")
		sink.AssertExpectations(t)
	})

	t.Run("EveryURLIsAttempted", func(t *testing.T) {
		cfg := newCaptureConfig(t)
		cfg.SetBrowserConcurrency(1)
		ok := newFakeSession(t, "s1")
		broken := newFakeSession(t, "s2")
		broken.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
		third := newFakeSession(t, "s3")
		browser := browserWith(ok, broken, third)

		sink := new(mocks.MockSink)
		sink.On("Attach", mock.Anything, mock.Anything).Return(nil).Twice()

		var out bytes.Buffer
		err := runCapture(context.Background(), zaptest.NewLogger(t), cfg, captureOptions{},
			[]string{"https://a.example", "https://b.invalid", "https://c.example/x"}, launching(browser), &staticSinks{sink: sink}, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 3 captures failed")
		assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
		assert.Len(t, strings.Fields(out.String()), 2)
		for _, s := range []*fakeSession{ok, broken, third} {
			assert.True(t, s.closed)
		}
	})

	t.Run("HighlightNeedsSelector", func(t *testing.T) {
		err := runCapture(context.Background(), zaptest.NewLogger(t), newCaptureConfig(t), captureOptions{highlight: true},
			[]string{"https://a.example"}, launching(new(mocks.MockBrowser)), &staticSinks{}, &bytes.Buffer{})
		assert.EqualError(t, err, "--highlight requires --selector")
	})

	t.Run("LaunchFailure", func(t *testing.T) {
		sinks := &staticSinks{sink: new(mocks.MockSink)}
		fail := launcherFunc(func(context.Context, config.BrowserConfig, *zap.Logger) (driver.Browser, error) {
			return nil, errors.New("chrome not found")
		})
		err := runCapture(context.Background(), zaptest.NewLogger(t), newCaptureConfig(t), captureOptions{},
			[]string{"https://a.example"}, fail, sinks, &bytes.Buffer{})
		assert.ErrorContains(t, err, "failed to start browser: chrome not found")
		assert.True(t, sinks.cleaned)
	})

	t.Run("SinkFailure", func(t *testing.T) {
		err := runCapture(context.Background(), zaptest.NewLogger(t), newCaptureConfig(t), captureOptions{},
			[]string{"https://a.example"}, launching(new(mocks.MockBrowser)), &staticSinks{err: errors.New("db down")}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "failed to initialize report sink: db down")
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		browser := new(mocks.MockBrowser)
		browser.On("NewSession", mock.Anything).Return(nil, context.Canceled)
		browser.On("Close", mock.Anything).Return(nil)

		err := runCapture(ctx, zaptest.NewLogger(t), newCaptureConfig(t), captureOptions{},
			[]string{"https://a.example"}, launching(browser), &staticSinks{sink: new(mocks.MockSink)}, &bytes.Buffer{})
		assert.ErrorIs(t, err, context.Canceled)
		browser.AssertCalled(t, "Close", mock.Anything)
	})
}

func TestShotName(t *testing.T) {
	tests := []struct {
		name, explicit, url string
		i, n                int
		want                string
	}{
		{"ExplicitSingle", "login", "https://a.example", 0, 1, "login"},
		{"ExplicitMany", "login", "https://a.example", 1, 3, "login_2"},
		{"FromHostAndPath", "", "https://shop.example/cart/items/", 0, 1, "shop.example_cart_items"},
		{"PortAndQuery", "", "http://localhost:8080/a?b=c", 0, 1, "localhost_8080_a"},
		{"NotAURL", "", "about:blank", 0, 1, "about_blank"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shotName(tt.explicit, tt.url, tt.i, tt.n))
		})
	}
}

func TestDefaultLauncher(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := defaultLauncher{}.Launch(context.Background(), config.BrowserConfig{Driver: "selenium"}, logger)
	assert.EqualError(t, err, `unsupported browser driver "selenium"`)

	// Playwright starts lazily, so selecting it launches nothing.
	b, err := defaultLauncher{}.Launch(context.Background(), config.BrowserConfig{Driver: config.DriverPlaywright}, logger)
	require.NoError(t, err)
	assert.IsType(t, &pw.Manager{}, b)
	assert.NoError(t, b.Close(context.Background()))
}

func TestDefaultSinkProvider(t *testing.T) {
	cfg := config.NewDefaultConfig()
	sink, cleanup, err := defaultSinkProvider{}.Create(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &report.LogSink{}, sink)

	cfg.DatabaseCfg.URL = "postgres://%zz"
	_, _, err = defaultSinkProvider{}.Create(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "failed to create database pool")
}
