package fetch

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/landwatch/landwatch/internal/proxy"
)

const emptyRetryInterval = time.Second

// ProxySource yields the proxy for the next attempt. A nil result means a
// direct connection.
type ProxySource interface {
	Next() *proxy.Settings
}

// Attempt outcomes recorded through OnAttempt.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeTimeout     = "timeout"
	OutcomeBusy        = "busy"
	OutcomeUnreachable = "unreachable"
	OutcomeNavigation  = "navigation"
	OutcomeCancelled   = "cancelled"
)

// Attempt describes one completed Fetch call for the attempt log.
type Attempt struct {
	ID          string
	Land        int
	StartedAt   time.Time
	Duration    time.Duration
	Outcome     string
	HTTPStatus  int
	ProxyServer string
	ContentHash uint64
}

// DispatcherConfig configures the Dispatcher.
type DispatcherConfig struct {
	Fetcher     Fetcher
	Concurrency int           // max concurrent driver calls
	Timeout     time.Duration // overall deadline per Fetch call

	// Proxies is optional; nil disables rotation.
	Proxies ProxySource

	// OnAttempt is called after each Fetch call completes, success or not.
	// Must be non-blocking; nil disables attempt recording.
	OnAttempt func(Attempt)
}

// Dispatcher serializes access to the browser driver behind a counting
// semaphore, retries not-yet-ready pages, and rotates proxies per call.
type Dispatcher struct {
	fetcher   Fetcher
	sem       chan struct{}
	timeout   time.Duration
	proxies   ProxySource
	onAttempt func(Attempt)
	inFlight  *xsync.Counter
}

// NewDispatcher creates a dispatcher with the given bounds.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		fetcher:   cfg.Fetcher,
		sem:       make(chan struct{}, conc),
		timeout:   timeout,
		proxies:   cfg.Proxies,
		onAttempt: cfg.OnAttempt,
		inFlight:  xsync.NewCounter(),
	}
}

// InFlight reports how many driver calls are currently executing.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Value()
}

// Fetch retrieves the raw state blob for one land. It blocks until a
// semaphore slot is free (cancellable), then runs the driver under the
// configured deadline, retrying not-yet-ready results 1s apart.
func (d *Dispatcher) Fetch(ctx context.Context, land int) ([]byte, error) {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.inFlight.Inc()
	defer d.inFlight.Dec()

	start := time.Now()
	raw, server, err := d.attempt(ctx, land)
	d.record(land, start, server, raw, err)
	return raw, err
}

func (d *Dispatcher) attempt(ctx context.Context, land int) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	tries := int(d.timeout / time.Second)
	if tries < 1 {
		tries = 1
	}

	var server string
	for i := 0; i < tries; i++ {
		var settings *proxy.Settings
		if d.proxies != nil {
			settings = d.proxies.Next()
		}
		if settings != nil {
			server = settings.Server
		}

		raw, err := d.fetcher(ctx, land, settings)
		if err != nil {
			return nil, server, mapDeadline(ctx, err)
		}
		if !isEmptyState(raw) {
			return raw, server, nil
		}

		timer := time.NewTimer(emptyRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, server, mapDeadline(ctx, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, server, ErrEmptyState
}

func (d *Dispatcher) record(land int, start time.Time, server string, raw []byte, err error) {
	if d.onAttempt == nil {
		return
	}
	a := Attempt{
		ID:          uuid.NewString(),
		Land:        land,
		StartedAt:   start,
		Duration:    time.Since(start),
		Outcome:     OutcomeOK,
		ProxyServer: server,
	}
	if err != nil {
		a.Outcome = classify(err)
		var nav *NavigationError
		if errors.As(err, &nav) {
			a.HTTPStatus = nav.Status
		}
	} else {
		a.ContentHash = xxh3.Hash(raw)
	}
	d.onAttempt(a)
}

// mapDeadline rewrites a deadline expiry into ErrFetchTimeout while leaving
// parent-context cancellation intact.
func mapDeadline(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrFetchTimeout
	}
	return err
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrEmptyState):
		return OutcomeEmpty
	case errors.Is(err, ErrFetchTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrBrowserBusy):
		return OutcomeBusy
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		var nav *NavigationError
		if errors.As(err, &nav) {
			return OutcomeNavigation
		}
		return OutcomeUnreachable
	}
}

// isEmptyState reports whether the driver returned a blob with no state in
// it: nothing, JSON null, or an empty JSON string.
func isEmptyState(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	s := string(trimmed)
	return s == "null" || s == `""`
}
