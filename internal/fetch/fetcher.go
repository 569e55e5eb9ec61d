// Package fetch dispatches expensive land-state extractions through the
// remote browser driver, bounded by a process-wide semaphore.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/landwatch/landwatch/internal/proxy"
)

// Fetcher executes one raw land-state extraction. A nil proxy means a direct
// connection. An empty result with a nil error means the remote page was not
// ready yet; the dispatcher retries those. Injectable for testing.
type Fetcher func(ctx context.Context, land int, settings *proxy.Settings) ([]byte, error)

// Sentinel errors for the transient failure classes the worker backs off on.
var (
	// ErrEmptyState means the driver kept returning an empty state for the
	// whole retry window.
	ErrEmptyState = errors.New("fetch: could not retrieve the land state")

	// ErrFetchTimeout means the overall fetch deadline elapsed.
	ErrFetchTimeout = errors.New("fetch: timed out")

	// ErrBrowserBusy means the driver rejected the session for holding too
	// many pages already.
	ErrBrowserBusy = errors.New("fetch: browser busy")

	// ErrBrowserUnreachable covers every other driver connection failure.
	ErrBrowserUnreachable = errors.New("fetch: browser unreachable")
)

// NavigationError reports a non-OK page load, carrying the HTTP status the
// game served.
type NavigationError struct {
	Status int
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("fetch: failed to navigate to the land [http-code %d]", e.Status)
}
