package tracker

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/landwatch/landwatch/internal/store"
)

const (
	restartBackoffStart = time.Second
	restartBackoffCap   = time.Minute

	// A worker run surviving this long counts as healthy and resets the
	// restart backoff.
	restartResetAfter = time.Minute
)

// SupervisorConfig configures the Supervisor.
type SupervisorConfig struct {
	MaxLand int
	Store   store.Store
	Fetcher Fetcher

	// NewWorker overrides worker construction, for tests. Defaults to a
	// Worker wired to Store and Fetcher.
	NewWorker func(land int) *Worker
}

// Supervisor spawns one Worker per land in [1, MaxLand] and keeps each one
// running: a panicking worker is logged and respawned after a doubling
// backoff, and Stop cancels all of them and waits for drain.
type Supervisor struct {
	maxLand   int
	newWorker func(land int) *Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor for lands 1..MaxLand.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	newWorker := cfg.NewWorker
	if newWorker == nil {
		newWorker = func(land int) *Worker {
			return &Worker{Land: land, Store: cfg.Store, Fetcher: cfg.Fetcher}
		}
	}
	return &Supervisor{
		maxLand:   cfg.MaxLand,
		newWorker: newWorker,
	}
}

// Start launches every land worker.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for land := 1; land <= s.maxLand; land++ {
		s.wg.Add(1)
		go func(land int) {
			defer s.wg.Done()
			s.supervise(ctx, land)
		}(land)
	}
	log.Printf("[tracker] supervising %d land workers", s.maxLand)
}

// Stop cancels all workers and waits for them to drain. Returns an error
// when ctx expires before the drain completes.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker: workers still draining: %w", ctx.Err())
	}
}

// supervise keeps one land's worker alive until ctx is cancelled.
func (s *Supervisor) supervise(ctx context.Context, land int) {
	w := s.newWorker(land)
	backoff := restartBackoffStart

	for ctx.Err() == nil {
		started := time.Now()
		if s.runGuarded(ctx, w) {
			// Clean return only happens on cancellation.
			return
		}
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= restartResetAfter {
			backoff = restartBackoffStart
		}
		log.Printf("[tracker] land %d worker restarting in %s", land, backoff)
		if !sleepFor(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, restartBackoffCap)
	}
}

func (s *Supervisor) runGuarded(ctx context.Context, w *Worker) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[tracker] land %d worker panic: %v\n%s", w.Land, r, debug.Stack())
		}
	}()
	w.Run(ctx)
	return true
}
