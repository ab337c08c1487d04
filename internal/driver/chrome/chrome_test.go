// internal/driver/chrome/chrome_test.go
package chrome

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/scripts"
	"github.com/xkilldash9x/snapreport/internal/viewport"
)

func TestFlags(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{Headless: true})
		assert.Equal(t, true, flags["no-sandbox"])
		assert.Equal(t, true, flags["headless"])
		assert.NotContains(t, flags, "ignore-certificate-errors")
	})

	t.Run("HeadfulHasNoHeadlessSwitch", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{Headless: false})
		assert.NotContains(t, flags, "headless")
	})

	t.Run("IgnoreTLSErrors", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{IgnoreTLSErrors: true})
		assert.Equal(t, true, flags["ignore-certificate-errors"])
		assert.Equal(t, true, flags["allow-insecure-localhost"])
	})

	t.Run("CustomArgs", func(t *testing.T) {
		flags := Flags(config.BrowserConfig{Args: []string{
			"--lang=de-DE",
			"--disable-extensions",
			"  --force-device-scale-factor=2 ",
			"--",
		}})
		assert.Equal(t, "de-DE", flags["lang"])
		assert.Equal(t, true, flags["disable-extensions"])
		assert.Equal(t, "2", flags["force-device-scale-factor"])
		assert.NotContains(t, flags, "")
	})
}

func TestAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true}
	base := len(AllocatorOptions(cfg))
	assert.Equal(t, len(Flags(cfg))+1, base, "one option per flag plus the window size")

	cfg.ExecPath = "/usr/bin/chromium"
	assert.Len(t, AllocatorOptions(cfg), base+1)
}

func TestCallExpression(t *testing.T) {
	t.Run("Expression", func(t *testing.T) {
		expr, err := CallExpression(" function (a, b) { return a + b; }\n", false, []any{1, "x"})
		require.NoError(t, err)
		assert.Equal(t, `(function (a, b) { return a + b; })(1, "x")`, expr)
	})

	t.Run("BoundReceiver", func(t *testing.T) {
		fn, err := CallExpression("function (el, border) {}", true, []any{"1px solid red"})
		require.NoError(t, err)
		assert.Equal(t, `function () { return (function (el, border) {})(this, "1px solid red"); }`, fn)
	})

	t.Run("EscapesStrings", func(t *testing.T) {
		expr, err := CallExpression("function (s) {}", false, []any{`"); alert(1); ("`})
		require.NoError(t, err)
		assert.Equal(t, `(function (s) {})("\"); alert(1); (\"")`, expr)
	})

	t.Run("UnencodableArgument", func(t *testing.T) {
		_, err := CallExpression("function (f) {}", false, []any{func() {}})
		var argErr *driver.ArgumentError
		require.ErrorAs(t, err, &argErr)
		assert.Equal(t, 1, argErr.Index)
		assert.ErrorIs(t, err, driver.ErrScriptExecution)
	})
}

func TestRemoteValue(t *testing.T) {
	raw, err := remoteValue(nil, &runtime.ExceptionDetails{Text: "Uncaught", Exception: &runtime.RemoteObject{Description: "TypeError: el is null"}}, nil)
	require.Error(t, err)
	assert.Nil(t, raw)
	assert.ErrorIs(t, driver.Classify("execute script", err), driver.ErrScriptExecution)

	raw, err = remoteValue(&runtime.RemoteObject{Value: []byte(`"3px solid red"`)}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `"3px solid red"`, string(raw))

	raw, err = remoteValue(nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

type foreignElement struct{}

func (foreignElement) Describe() string { return "foreign" }

func TestExecuteScriptRejectsForeignElements(t *testing.T) {
	s := &Session{logger: zaptest.NewLogger(t)}
	_, err := s.ExecuteScript(context.Background(), "function (el) {}", foreignElement{})
	var argErr *driver.ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, 0, argErr.Index)
}

func TestElementDescribe(t *testing.T) {
	el := &Element{node: &cdp.Node{BackendNodeID: 42}, selector: "#cart"}
	assert.Equal(t, "#cart (backend node 42)", el.Describe())
}

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	type ctxKey string
	const key ctxKey = "target"

	t.Run("InheritsValuesFromTab", func(t *testing.T) {
		tab := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(tab, context.Background())
		defer cancel()
		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CanceledByOperation", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), op)
		defer cancel()

		cancelOp()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CanceledByTab", func(t *testing.T) {
		tab, cancelTab := context.WithCancel(context.Background())
		combined, cancel := CombineContext(tab, context.Background())
		defer cancel()

		cancelTab()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

// stubRun replaces chromedp.Run for the duration of the test and records the
// context of every call.
func stubRun(t *testing.T, fn func(ctx context.Context) error) *[]context.Context {
	t.Helper()
	var seen []context.Context
	orig := runFn
	runFn = func(ctx context.Context, _ ...chromedp.Action) error {
		seen = append(seen, ctx)
		return fn(ctx)
	}
	t.Cleanup(func() { runFn = orig })
	return &seen
}

func TestStartOn(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("RunsOnTargetNotOnCallerContext", func(t *testing.T) {
		seen := stubRun(t, func(context.Context) error { return nil })
		target, cancelTarget := context.WithCancel(context.Background())
		defer cancelTarget()

		op, cancelOp := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, startOn(op, target))
		cancelOp()

		require.Len(t, *seen, 1)
		assert.True(t, (*seen)[0] == target, "first Run must use the long-lived context")
		assert.NoError(t, (*seen)[0].Err(), "ending the call must not cancel the target")
	})

	t.Run("CallerDeadlineBoundsTheWait", func(t *testing.T) {
		exited := make(chan struct{})
		stubRun(t, func(ctx context.Context) error {
			defer close(exited)
			<-ctx.Done()
			return ctx.Err()
		})
		target, cancelTarget := context.WithCancel(context.Background())

		op, cancelOp := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelOp()
		err := startOn(op, target)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NoError(t, target.Err())

		// The caller owns the target; canceling it ends the pending Run.
		cancelTarget()
		<-exited
	})

	t.Run("RunErrorIsReturned", func(t *testing.T) {
		stubRun(t, func(context.Context) error { return chromedp.ErrInvalidContext })
		err := startOn(context.Background(), context.Background())
		assert.ErrorIs(t, err, chromedp.ErrInvalidContext)
	})
}

func TestBrowserKeepsStartContextsAlive(t *testing.T) {
	seen := stubRun(t, func(context.Context) error { return nil })
	logger := zaptest.NewLogger(t)

	launchCtx, cancelLaunch := context.WithTimeout(context.Background(), time.Second)
	b, err := Launch(launchCtx, config.NewDefaultConfig().Browser(), logger)
	require.NoError(t, err)
	cancelLaunch()

	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0] == b.browserCtx)
	assert.NoError(t, b.browserCtx.Err(), "browser context outlives Launch's ctx")

	sessCtx, cancelSess := context.WithTimeout(context.Background(), time.Second)
	sess, err := b.NewSession(sessCtx)
	require.NoError(t, err)
	cancelSess()

	s := sess.(*Session)
	require.Len(t, *seen, 2)
	assert.True(t, (*seen)[1] == s.ctx, "first tab Run happens on the tab context")
	assert.NoError(t, s.ctx.Err(), "tab context outlives NewSession's ctx")
	require.NotNil(t, chromedp.FromContext(s.ctx))

	require.NoError(t, b.Close(context.Background()))
	assert.Error(t, s.ctx.Err(), "closing the browser cancels its tabs")

	_, err = b.NewSession(context.Background())
	assert.ErrorIs(t, err, errBrowserClosed)
}

func TestConcurrentSessionsDoNotSerialize(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	stubRun(t, func(context.Context) error { return nil })

	b, err := Launch(context.Background(), config.NewDefaultConfig().Browser(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close(context.Background())

	// Tab setup blocks until both sessions are inside it at once.
	runFn = func(ctx context.Context, _ ...chromedp.Action) error {
		started.Done()
		<-release
		return nil
	}

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := b.NewSession(context.Background())
			errs <- err
		}()
	}

	waited := make(chan struct{})
	go func() {
		started.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("tab setup for the second session waited on the first")
	}
	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

// TestBrowserRoundTrip drives a real Chrome. It runs only when
// SNAPREPORT_BROWSER_TESTS is set.
func TestBrowserRoundTrip(t *testing.T) {
	if os.Getenv("SNAPREPORT_BROWSER_TESTS") == "" || testing.Short() {
		t.Skip("set SNAPREPORT_BROWSER_TESTS to run against a real browser")
	}
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := config.NewDefaultConfig().Browser()
	b, err := Launch(ctx, cfg, logger)
	require.NoError(t, err)
	defer func() { assert.NoError(t, b.Close(context.Background())) }()

	s, err := b.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.Navigate(ctx, `data:text/html,<div style="height:3000px"></div><p id="far">far</p>`))
	el, err := s.Find(ctx, "#far")
	require.NoError(t, err)

	repo := scripts.NewStore(nil, logger)
	h := viewport.NewHighlighter(s, repo, logger)
	ctrl := viewport.NewController(s, repo, h, viewport.DefaultOptions(), logger)
	out, err := ctrl.ScrollIntoMiddle(ctx, el, true)
	require.NoError(t, err)
	assert.Equal(t, viewport.StateDone, out.State)

	png, err := s.CaptureScreenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
	require.NoError(t, h.UnhighlightLast(ctx))
}
