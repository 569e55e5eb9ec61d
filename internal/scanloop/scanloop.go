// Package scanloop runs periodic background sweeps at a jittered cadence.
package scanloop

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMinInterval and DefaultJitterRange define the shared sweep cadence.
	DefaultMinInterval = 5 * time.Minute
	DefaultJitterRange = 30 * time.Second
)

// Run executes fn at a jittered interval until stopCh is closed.
// The interval is: minInterval + random([0, jitterRange)). Each invocation
// receives a context that is cancelled when stopCh closes, so in-flight
// store calls abort promptly at shutdown.
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func(context.Context)) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn(ctx)
	}
}
