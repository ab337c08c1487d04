// internal/driver/chrome/session.go
package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/snapreport/internal/driver"
)

// visibleFn mirrors what a WebDriver "is displayed" check looks at.
const visibleFn = `function (el) {
    if (!el.isConnected) return false;
    var style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
    var rect = el.getBoundingClientRect();
    return rect.width > 0 && rect.height > 0;
}`

// Element is a DOM node located in a chromedp tab.
type Element struct {
	node     *cdp.Node
	selector string
}

var _ driver.ElementRef = (*Element)(nil)

func (e *Element) Describe() string {
	return fmt.Sprintf("%s (backend node %d)", e.selector, e.node.BackendNodeID)
}

// Session is one chromedp tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	nav    time.Duration
	find   time.Duration
	logger *zap.Logger
	onDone func(string)
}

var _ driver.Session = (*Session)(nil)

func (s *Session) ID() string { return s.id }

// run executes actions against the tab, bounded by ctx as well.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.nav)
	defer cancel()
	if err := s.run(opCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	s.logger.Debug("Navigated.", zap.String("url", url))
	return nil
}

func (s *Session) Find(ctx context.Context, selector string) (driver.ElementRef, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.find)
	defer cancel()

	var nodes []*cdp.Node
	if err := s.run(opCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("element %q not found: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("element %q not found", selector)
	}
	return &Element{node: nodes[0], selector: selector}, nil
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	el, rest, err := driver.SplitElementArg(args)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if el == nil {
		expr, err := CallExpression(script, false, rest)
		if err != nil {
			return nil, err
		}
		err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			obj, exp, err := runtime.Evaluate(expr).
				WithReturnByValue(true).
				WithAwaitPromise(true).
				Do(ctx)
			raw, err = remoteValue(obj, exp, err)
			return err
		}))
		if err != nil {
			return nil, driver.Classify("execute script", err)
		}
		return driver.DecodeResult(raw)
	}

	node, err := s.element(el)
	if err != nil {
		return nil, err
	}
	fn, err := CallExpression(script, true, rest)
	if err != nil {
		return nil, err
	}
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return s.onNode(ctx, node, func(ctx context.Context, id runtime.RemoteObjectID) error {
			obj, exp, err := runtime.CallFunctionOn(fn).
				WithObjectID(id).
				WithReturnByValue(true).
				WithAwaitPromise(true).
				Do(ctx)
			raw, err = remoteValue(obj, exp, err)
			return err
		})
	}))
	if err != nil {
		return nil, driver.Classify("execute script", err)
	}
	return driver.DecodeResult(raw)
}

func (s *Session) IsDisplayed(ctx context.Context, el driver.ElementRef) (bool, error) {
	v, err := s.ExecuteScript(ctx, visibleFn, el)
	if err != nil {
		return false, err
	}
	return driver.Truthy(v), nil
}

func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.cancel()
	if s.onDone != nil {
		s.onDone(s.id)
	}
	s.logger.Debug("Session closed.")
	return nil
}

func (s *Session) element(el driver.ElementRef) (*cdp.Node, error) {
	e, ok := el.(*Element)
	if !ok || e.node == nil {
		return nil, &driver.ArgumentError{Index: 0, Reason: fmt.Sprintf("element %T does not belong to the chromedp backend", el)}
	}
	return e.node, nil
}

// onNode resolves node to a remote object, runs fn with its id and releases
// the object afterwards.
func (s *Session) onNode(ctx context.Context, node *cdp.Node, fn func(context.Context, runtime.RemoteObjectID) error) error {
	obj, err := dom.ResolveNode().WithBackendNodeID(node.BackendNodeID).Do(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := runtime.ReleaseObject(obj.ObjectID).Do(ctx); rerr != nil {
			s.logger.Debug("Failed to release remote object.", zap.Error(rerr))
		}
	}()
	return fn(ctx, obj.ObjectID)
}

// CallExpression wraps a script body into a JS source that invokes it with
// args embedded as JSON literals. With bindThis the result is a function
// declaration for CallFunctionOn whose receiver becomes the first parameter.
func CallExpression(script string, bindThis bool, args []any) (string, error) {
	params := make([]string, 0, len(args)+1)
	if bindThis {
		params = append(params, "this")
	}
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", &driver.ArgumentError{Index: i + 1, Reason: err.Error()}
		}
		params = append(params, string(b))
	}
	call := fmt.Sprintf("(%s)(%s)", strings.TrimSpace(script), strings.Join(params, ", "))
	if bindThis {
		return "function () { return " + call + "; }", nil
	}
	return call, nil
}

func remoteValue(obj *runtime.RemoteObject, exp *runtime.ExceptionDetails, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if exp != nil {
		return nil, errors.New(exp.Error())
	}
	if obj == nil {
		return nil, nil
	}
	return []byte(obj.Value), nil
}
