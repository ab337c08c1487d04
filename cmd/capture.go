// -- cmd/capture.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/snapreport/internal/capture"
	"github.com/xkilldash9x/snapreport/internal/config"
	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/driver/chrome"
	"github.com/xkilldash9x/snapreport/internal/driver/pw"
	"github.com/xkilldash9x/snapreport/internal/driver/rodx"
	"github.com/xkilldash9x/snapreport/internal/observability"
	"github.com/xkilldash9x/snapreport/internal/report"
	"github.com/xkilldash9x/snapreport/internal/scripts"
	"github.com/xkilldash9x/snapreport/internal/viewport"
)

// browserShutdownTimeout bounds Browser.Close once the run is over, even
// when the run itself was canceled.
const browserShutdownTimeout = 15 * time.Second

// browserLauncher starts the configured backend. Tests swap it for mocks.
type browserLauncher interface {
	Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Browser, error)
}

type defaultLauncher struct{}

func (defaultLauncher) Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Browser, error) {
	switch cfg.Driver {
	case config.DriverChromedp:
		return chrome.Launch(ctx, cfg, logger)
	case config.DriverRod:
		return rodx.Launch(ctx, cfg, logger)
	case config.DriverPlaywright:
		return pw.NewManager(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported browser driver %q", cfg.Driver)
	}
}

// sinkProvider builds the attachment sink and returns its cleanup.
type sinkProvider interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (report.Sink, func(), error)
}

type defaultSinkProvider struct{}

// Create returns a Postgres sink when database.url is set and a log-only
// sink otherwise.
func (defaultSinkProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (report.Sink, func(), error) {
	dbURL := cfg.Database().URL
	if dbURL == "" {
		logger.Debug("No database configured, attachments go to the log.")
		return report.NewLogSink(logger), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	sink, err := report.NewPostgresSink(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return sink, pool.Close, nil
}

type captureOptions struct {
	selector  string
	name      string
	node      string
	highlight bool
	runID     string

	driver      string
	headless    bool
	concurrency int
	out         string
}

func newCaptureCmd(launcher browserLauncher, sinks sinkProvider) *cobra.Command {
	var opts captureOptions

	captureCmd := &cobra.Command{
		Use:   "capture [url...]",
		Short: "Screenshot one or more pages, optionally scrolling to and highlighting an element first",
		Long: `Opens each URL in its own browser session and writes a PNG to
<report.root>/[<run>/]Screenshots/<HHmmssSSS>_<name>.png.

With --selector the matched element is scrolled into view before the shot and,
with --highlight, outlined for the duration of the capture. A page whose element
cannot be found is recorded as a failed node with a screenshot of the viewport.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("driver") {
				cfg.SetBrowserDriver(strings.ToLower(opts.driver))
			}
			if flags.Changed("headless") {
				cfg.SetBrowserHeadless(opts.headless)
			}
			if flags.Changed("concurrency") {
				cfg.SetBrowserConcurrency(opts.concurrency)
			}
			if flags.Changed("out") {
				cfg.SetReportRoot(opts.out)
			}
			if c, ok := cfg.(*config.Config); ok {
				if err := c.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
			}

			logger := observability.GetLogger()
			return runCapture(ctx, logger, cfg, opts, args, launcher, sinks, cmd.OutOrStdout())
		},
	}

	f := captureCmd.Flags()
	f.StringVar(&opts.selector, "selector", "", "CSS selector of the element to bring into view")
	f.StringVar(&opts.name, "name", "", "screenshot name (defaults to one derived from the URL)")
	f.StringVar(&opts.node, "node", "", "report node the screenshot is attached to (defaults to the URL)")
	f.BoolVar(&opts.highlight, "highlight", false, "outline the element while capturing")
	f.StringVar(&opts.runID, "run-id", "", "run identifier for attachments (defaults to a new UUID)")
	f.StringVar(&opts.driver, "driver", "", "browser backend: chromedp, rod or playwright")
	f.BoolVar(&opts.headless, "headless", true, "run the browser headless")
	f.IntVarP(&opts.concurrency, "concurrency", "j", 0, "number of pages captured in parallel")
	f.StringVarP(&opts.out, "out", "o", "", "report root directory")

	return captureCmd
}

// captureResult is the outcome for one URL.
type captureResult struct {
	url        string
	attachment report.Attachment
	err        error
}

// runCapture is the testable core of the capture command. Every URL is
// attempted; the returned error summarizes the ones that failed.
func runCapture(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	opts captureOptions,
	urls []string,
	launcher browserLauncher,
	sinks sinkProvider,
	out io.Writer,
) error {
	if opts.highlight && opts.selector == "" {
		return errors.New("--highlight requires --selector")
	}

	repo, err := scripts.NewDirStore(cfg.Scripts().Dir, logger)
	if err != nil {
		return err
	}

	sink, cleanup, err := sinks.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize report sink: %w", err)
	}
	defer cleanup()

	browser, err := launcher.Launch(ctx, cfg.Browser(), logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), browserShutdownTimeout)
		defer cancel()
		if err := browser.Close(closeCtx); err != nil {
			logger.Warn("Error closing browser.", zap.Error(err))
		}
	}()

	reporter := report.NewReporter(sink, opts.runID, logger)
	root := capture.RunRoot(cfg.Report().Root, time.Now(), cfg.Report().RunFolder)
	cc := cfg.Capture()
	vopts := viewport.Options{
		MaxAttempts:    cc.MaxAttempts,
		ConfirmTimeout: cc.ViewportTimeout,
		PollInterval:   cc.PollInterval,
	}

	logger.Info("Starting capture run.",
		zap.String("run_id", reporter.RunID()),
		zap.String("driver", cfg.Browser().Driver),
		zap.String("root", root),
		zap.Int("urls", len(urls)))

	results := make([]captureResult, len(urls))
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Browser().Concurrency, 1))
	for i, u := range urls {
		g.Go(func() error {
			res := captureOne(gctx, logger, browser, reporter, repo, vopts, root, opts, u, shotName(opts.name, u, i, len(urls)))
			results[i] = res
			if res.err == nil {
				outMu.Lock()
				fmt.Fprintln(out, res.attachment.Path)
				outMu.Unlock()
			}
			// Per-URL failures are collected, only cancellation stops the group.
			if errors.Is(res.err, context.Canceled) {
				return res.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var failed []error
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", r.url, r.err))
		}
	}
	logger.Info("Capture run complete.",
		zap.String("run_id", reporter.RunID()),
		zap.Int("succeeded", len(urls)-len(failed)),
		zap.Int("failed", len(failed)))
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d captures failed: %w", len(failed), len(urls), errors.Join(failed...))
	}
	return nil
}

func captureOne(
	ctx context.Context,
	logger *zap.Logger,
	browser driver.Browser,
	reporter *report.Reporter,
	repo scripts.Repository,
	vopts viewport.Options,
	root string,
	opts captureOptions,
	rawURL, name string,
) captureResult {
	res := captureResult{url: rawURL}
	log := logger.With(zap.String("url", rawURL))

	session, err := browser.NewSession(ctx)
	if err != nil {
		res.err = fmt.Errorf("failed to open session: %w", err)
		return res
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), browserShutdownTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			log.Debug("Error closing session.", zap.Error(err))
		}
	}()

	node := opts.node
	if node == "" {
		node = rawURL
	}
	pipe := capture.ForSession(session, repo, vopts, root, log.With(zap.String("session_id", session.ID())))

	if err := session.Navigate(ctx, rawURL); err != nil {
		res.err = err
		return res
	}

	var el driver.ElementRef
	if opts.selector != "" {
		el, err = session.Find(ctx, opts.selector)
		if err != nil {
			log.Warn("Element not found, recording failure.", zap.String("selector", opts.selector), zap.Error(err))
			if _, ferr := reporter.FailNode(ctx, pipe, node, err, name+"_failure"); ferr != nil {
				log.Error("Failed to record failure screenshot.", zap.Error(ferr))
			}
			res.err = err
			return res
		}
	}

	res.attachment, res.err = reporter.AddScreenCapture(ctx, pipe, node, name, el, opts.highlight)
	return res
}

// shotName picks the screenshot name for the i-th of n URLs. An explicit name
// gets an index suffix when several URLs share it.
func shotName(name, rawURL string, i, n int) string {
	if name != "" {
		if n > 1 {
			return fmt.Sprintf("%s_%d", name, i+1)
		}
		return name
	}

	base := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		base = u.Host + strings.TrimRight(u.Path, "/")
	}
	return capture.SanitizeName(urlNameReplacer.Replace(base))
}

var urlNameReplacer = strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_", "=", "_", "#", "_")
