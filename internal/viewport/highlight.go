// internal/viewport/highlight.go
package viewport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/scripts"
)

// Highlighter owns the single highlight slot of one browser session: the
// element currently wearing the highlight border and the border it replaced.
// The slot is non-empty exactly when a border override is applied in the page.
type Highlighter struct {
	drv     driver.Driver
	scripts scripts.Repository
	logger  *zap.Logger

	mu          sync.Mutex
	current     driver.ElementRef
	savedBorder string
}

// NewHighlighter creates an empty coordinator for one session.
func NewHighlighter(drv driver.Driver, repo scripts.Repository, logger *zap.Logger) *Highlighter {
	return &Highlighter{
		drv:     drv,
		scripts: repo,
		logger:  logger.Named("highlight"),
	}
}

// Current returns the highlighted element and its saved border, if any.
func (h *Highlighter) Current() (driver.ElementRef, string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.savedBorder, h.current != nil
}

// Highlight borders el. Any previously highlighted element is restored first;
// if that restore fails for a reason other than staleness, el is left alone.
func (h *Highlighter) Highlight(ctx context.Context, el driver.ElementRef) error {
	if el == nil {
		return errors.New("cannot highlight a nil element")
	}
	body, err := h.scripts.Get(scripts.GetElementBorder)
	if err != nil {
		return fmt.Errorf("failed to load highlight script: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.unhighlightLastLocked(ctx); err != nil {
		return fmt.Errorf("could not clear previous highlight: %w", err)
	}

	res, err := h.drv.ExecuteScript(ctx, body, el)
	if err != nil {
		return fmt.Errorf("failed to highlight %s: %w", el.Describe(), err)
	}

	h.current = el
	h.savedBorder = driver.AsString(res)
	h.logger.Debug("Element highlighted.",
		zap.String("element", el.Describe()),
		zap.String("saved_border", h.savedBorder))
	return nil
}

// Unhighlight strips the highlight border from el. The slot is cleared when el
// is the element it holds.
func (h *Highlighter) Unhighlight(ctx context.Context, el driver.ElementRef) error {
	if el == nil {
		return errors.New("cannot unhighlight a nil element")
	}
	body, err := h.scripts.Get(scripts.RemoveElementBorder)
	if err != nil {
		return fmt.Errorf("failed to load unhighlight script: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.drv.ExecuteScript(ctx, body, el); err != nil {
		return fmt.Errorf("failed to unhighlight %s: %w", el.Describe(), err)
	}
	if h.current == el {
		h.current = nil
		h.savedBorder = ""
	}
	h.logger.Debug("Element unhighlighted.", zap.String("element", el.Describe()))
	return nil
}

// UnhighlightLast restores the border of the highlighted element, if there is
// one. A stale reference means the highlight is already gone and is not an
// error. The slot is empty when this returns, whatever the outcome.
func (h *Highlighter) UnhighlightLast(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unhighlightLastLocked(ctx)
}

func (h *Highlighter) unhighlightLastLocked(ctx context.Context) error {
	if h.current == nil {
		return nil
	}
	el, border := h.current, h.savedBorder
	defer func() {
		h.current = nil
		h.savedBorder = ""
	}()

	body, err := h.scripts.Get(scripts.UnhighlightLastElement)
	if err != nil {
		return fmt.Errorf("failed to load restore script: %w", err)
	}

	if _, err := h.drv.ExecuteScript(ctx, body, el, border); err != nil {
		if errors.Is(err, driver.ErrStaleElement) {
			h.logger.Debug("Highlighted element went stale; nothing to restore.", zap.String("element", el.Describe()))
			return nil
		}
		return fmt.Errorf("failed to restore border of %s: %w", el.Describe(), err)
	}
	h.logger.Debug("Restored last highlighted element.",
		zap.String("element", el.Describe()),
		zap.String("border", border))
	return nil
}
