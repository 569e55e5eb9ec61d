package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/landwatch/landwatch/internal/scanloop"
)

// Janitor periodically sweeps expired aggregate entries out of a store.
// Per-land keys expire on their own; the aggregate view does not, so a
// background reconciliation keeps the two in step.
type Janitor struct {
	sweeper     Sweeper
	minInterval time.Duration
	jitterRange time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewJanitor creates a janitor sweeping at the shared scanloop cadence.
func NewJanitor(sweeper Sweeper) *Janitor {
	return &Janitor{
		sweeper:     sweeper,
		minInterval: scanloop.DefaultMinInterval,
		jitterRange: scanloop.DefaultJitterRange,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		scanloop.Run(j.stopCh, j.minInterval, j.jitterRange, j.sweep)
	}()
}

// Stop signals the sweep loop to stop and waits for completion.
func (j *Janitor) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

func (j *Janitor) sweep(ctx context.Context) {
	removed, err := j.sweeper.Sweep(ctx)
	if err != nil {
		log.Printf("[janitor] sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[janitor] removed %d stale aggregate entries", removed)
	}
}
