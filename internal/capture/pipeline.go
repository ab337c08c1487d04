// internal/capture/pipeline.go
package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/scripts"
	"github.com/xkilldash9x/snapreport/internal/viewport"
)

const (
	// ScreenshotDir is the folder under the report root that holds captures.
	ScreenshotDir = "Screenshots"

	runFolderLayout = "200601021504"
	cleanupTimeout  = 5 * time.Second
)

// Shot is the result of one capture.
type Shot struct {
	// Path is the absolute location of the written PNG.
	Path string
	// Positioned is true when the element was confirmed in the viewport
	// (and highlighted, if asked) before the screenshot.
	Positioned bool
	// PositionErr holds the positioning failure of a degraded capture.
	PositionErr error
}

// Pipeline positions an element, screenshots the viewport and writes the image
// under the report root. One pipeline serves one browser session.
type Pipeline struct {
	drv         driver.Driver
	controller  *viewport.Controller
	highlighter *viewport.Highlighter

	fs     afero.Fs
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithFs replaces the OS file system.
func WithFs(fs afero.Fs) Option {
	return func(p *Pipeline) { p.fs = fs }
}

// WithClock replaces time.Now for screenshot names.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline around an existing controller and the highlighter it
// shares.
func New(drv driver.Driver, ctrl *viewport.Controller, h *viewport.Highlighter, root string, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		drv:         drv,
		controller:  ctrl,
		highlighter: h,
		fs:          afero.NewOsFs(),
		root:        root,
		now:         time.Now,
		logger:      logger.Named("capture"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ForSession wires a fresh highlighter, controller and pipeline for one
// session's driver.
func ForSession(drv driver.Driver, repo scripts.Repository, vopts viewport.Options, root string, logger *zap.Logger, opts ...Option) *Pipeline {
	h := viewport.NewHighlighter(drv, repo, logger)
	ctrl := viewport.NewController(drv, repo, h, vopts, logger)
	return New(drv, ctrl, h, root, logger, opts...)
}

// Highlighter exposes the session's highlight coordinator.
func (p *Pipeline) Highlighter() *viewport.Highlighter { return p.highlighter }

// Capture is Take reduced to the written path.
func (p *Pipeline) Capture(ctx context.Context, name string, el driver.ElementRef, highlight bool) (string, error) {
	shot, err := p.Take(ctx, name, el, highlight)
	if err != nil {
		return "", err
	}
	return shot.Path, nil
}

// Take screenshots the viewport and writes it to
// <root>/Screenshots/<HHmmssSSS>_<name>.png. When el is set it is first
// scrolled into view (and highlighted if asked); a positioning failure only
// degrades the capture. Driver and file system failures are returned.
func (p *Pipeline) Take(ctx context.Context, name string, el driver.ElementRef, highlight bool) (*Shot, error) {
	shot := &Shot{}
	log := p.logger.With(zap.String("name", name))

	if el != nil {
		log = log.With(zap.String("element", el.Describe()))
		out, err := p.controller.ScrollIntoMiddle(ctx, el, highlight)
		if err != nil {
			log.Warn("Could not position element, capturing the viewport as is.",
				zap.Stringer("state", out.State),
				zap.Int("attempts", out.Attempts),
				zap.Error(err))
			shot.PositionErr = err
		} else {
			shot.Positioned = true
		}
	}

	data, err := p.screenshot(ctx)
	if err != nil {
		return nil, err
	}

	at := p.now()
	path, err := p.Path(name, at)
	if err != nil {
		return nil, err
	}
	if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := afero.WriteFile(p.fs, path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write screenshot %s: %w", path, err)
	}

	shot.Path = path
	log.Info("Screenshot captured.",
		zap.String("path", path),
		zap.Bool("positioned", shot.Positioned),
		zap.Int("bytes", len(data)))
	return shot, nil
}

// screenshot grabs the image bytes and then drops any highlight, whatever the
// outcome of either step.
func (p *Pipeline) screenshot(ctx context.Context) ([]byte, error) {
	defer p.release(ctx)

	data, err := p.drv.CaptureScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

func (p *Pipeline) release(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.highlighter.UnhighlightLast(cctx); err != nil {
		p.logger.Warn("Failed to remove highlight after capture.", zap.Error(err))
	}
}

// Path returns the absolute file a screenshot named name taken at t is
// written to.
func (p *Pipeline) Path(name string, t time.Time) (string, error) {
	root, err := filepath.Abs(p.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve report root %q: %w", p.root, err)
	}
	return filepath.Join(root, ScreenshotDir, FileName(name, t)), nil
}

// FileName builds <HHmmssSSS>_<name>.png. Names are not checked for collisions.
func FileName(name string, t time.Time) string {
	return Stamp(t) + "_" + SanitizeName(name) + ".png"
}

// Stamp formats t as HHmmssSSS.
func Stamp(t time.Time) string {
	return fmt.Sprintf("%s%03d", t.Format("150405"), t.Nanosecond()/int(time.Millisecond))
}

// SanitizeName keeps a screenshot name inside the screenshot folder.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSuffix(name, ".png")
	if name == "" || name == "." || name == ".." {
		return "screenshot"
	}
	return name
}

// RunRoot returns the report root for one run: root itself, or a
// <yyyyMMddHHmm> folder beneath it when perRun is set.
func RunRoot(root string, t time.Time, perRun bool) string {
	if !perRun {
		return root
	}
	return filepath.Join(root, t.Format(runFolderLayout))
}
