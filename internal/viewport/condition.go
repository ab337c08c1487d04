// internal/viewport/condition.go
package viewport

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/snapreport/internal/driver"
	"github.com/xkilldash9x/snapreport/internal/scripts"
	"github.com/xkilldash9x/snapreport/internal/wait"
)

// ViewportDescription names the in-viewport condition in wait diagnostics.
const ViewportDescription = "element to be completely visible in viewport"

// InViewport builds a predicate asking the browser whether el lies entirely
// inside the current viewport. The script is loaded once, here; evaluating the
// predicate never mutates page state.
func InViewport(drv driver.Driver, repo scripts.Repository, el driver.ElementRef) (wait.Predicate, error) {
	body, err := repo.Get(scripts.IsElementInViewport)
	if err != nil {
		return nil, fmt.Errorf("failed to load viewport script: %w", err)
	}
	return func(ctx context.Context) (bool, error) {
		v, err := drv.ExecuteScript(ctx, body, el)
		if err != nil {
			return false, err
		}
		return driver.Truthy(v), nil
	}, nil
}
