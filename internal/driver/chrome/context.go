// internal/driver/chrome/context.go
package chrome

import (
	"context"
)

// CombineContext returns a context derived from tabCtx that is also canceled
// when opCtx is. It keeps tabCtx's values, which carry the chromedp target, and
// lets opCtx impose the operation's deadline.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)

	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
