// Package tracker runs one refresh loop per land and the supervisor keeping
// those loops alive.
package tracker

import (
	"context"
	"log"
	"time"

	"github.com/landwatch/landwatch/internal/landstate"
	"github.com/landwatch/landwatch/internal/store"
)

// Fetcher retrieves the raw state blob for a land, typically the bounded
// fetch dispatcher.
type Fetcher interface {
	Fetch(ctx context.Context, land int) ([]byte, error)
}

// Worker owns the refresh loop for a single land. Being the only fetcher for
// its land, it also serializes fetches per land: a second dispatch can never
// start before the first one finished.
type Worker struct {
	Land    int
	Store   store.Store
	Fetcher Fetcher

	// Backoff returns the retry delay in seconds after a failed iteration.
	// Defaults to landstate.StaleRetryDelay.
	Backoff func() int

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

// Run loops {check cache, fetch, parse, persist, publish, sleep} until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		secs := w.tick(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[tracker] Land %d next sync in %d seconds", w.Land, secs)
		if !sleepFor(ctx, time.Duration(secs)*time.Second) {
			return
		}
	}
}

// tick runs one loop iteration and returns how many seconds to sleep before
// the next one. Transient failures are logged and absorbed into a short
// random backoff; they never break the loop.
func (w *Worker) tick(ctx context.Context) int {
	now := w.now()

	snap, err := w.Store.Get(ctx, w.Land)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		log.Printf("[tracker] land %d: read cache: %v", w.Land, err)
		return w.retryDelay()
	}
	if snap.Live(now) {
		return ceilSeconds(snap.ExpiresAt.Sub(now))
	}

	raw, err := w.Fetcher.Fetch(ctx, w.Land)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		log.Printf("[tracker] warn: land %d: fetch: %v", w.Land, err)
		return w.retryDelay()
	}

	parsed, err := landstate.Parse(raw)
	if err != nil {
		log.Printf("[tracker] error: land %d: parse: %v", w.Land, err)
		return w.retryDelay()
	}

	now = w.now()
	ttl := landstate.NextDelay(parsed, now)
	snap = &landstate.CachedSnapshot{
		CreatedAt: landstate.NewTimestamp(now),
		ExpiresAt: landstate.NewTimestamp(now.Add(time.Duration(ttl) * time.Second)),
		State:     raw,
	}

	// A cancelled worker must not persist partially computed state.
	if ctx.Err() != nil {
		return 0
	}
	if err := w.Store.Put(ctx, w.Land, snap, ttl); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		log.Printf("[tracker] land %d: put: %v", w.Land, err)
		return w.retryDelay()
	}
	if err := w.Store.Publish(ctx, landstate.EventFor(w.Land, snap)); err != nil {
		log.Printf("[tracker] land %d: publish: %v", w.Land, err)
	}
	return ttl
}

func (w *Worker) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

func (w *Worker) retryDelay() int {
	if w.Backoff != nil {
		return w.Backoff()
	}
	return landstate.StaleRetryDelay()
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// sleepFor suspends until d elapses. Returns false when ctx was cancelled
// first.
func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
