package landstate

import (
	"math/rand/v2"
	"time"
)

// Refresh delay bounds, in seconds. MaxDelay is also the delay for blocked
// and idle lands.
const (
	MinDelay = 15
	MaxDelay = 86400
)

// Stale-data retry window, in seconds, for timers already in the past.
const (
	staleRetryMin = 60
	staleRetryMax = 300
)

// NextDelay computes how many seconds to wait before the land is worth
// re-fetching. Trees gate on the last one to respawn (harvest them all in
// one pass); each industry kind gates on the earliest to finish (catch the
// first opportunity). A timer landing exactly on now means every resource
// is already available, which in practice is a locked land.
func NextDelay(p *ParsedLandState, now time.Time) int {
	if p.IsBlocked {
		return MaxDelay
	}

	target := now.Add(MaxDelay * time.Second)

	if len(p.Trees) > 0 {
		latest := now
		for _, t := range p.Trees {
			ts := now
			if !t.UTCRefresh.IsZero() {
				ts = t.UTCRefresh.Time
			}
			if ts.After(latest) {
				latest = ts
			}
		}
		if latest.Before(target) {
			target = latest
		}
	}

	for _, kind := range [][]ParsedIndustry{p.Windmills, p.Wineries, p.Grills, p.Kilns} {
		if len(kind) == 0 {
			continue
		}
		earliest := Timestamp{}
		for _, ind := range kind {
			ts := now
			if !ind.FinishTime.IsZero() {
				ts = ind.FinishTime.Time
			}
			if earliest.IsZero() || ts.Before(earliest.Time) {
				earliest = NewTimestamp(ts)
			}
		}
		if earliest.Before(target) {
			target = earliest.Time
		}
	}

	delta := int(target.Sub(now).Seconds())
	switch {
	case delta == 0:
		return MaxDelay
	case delta < 0:
		return StaleRetryDelay()
	default:
		return max(MinDelay, delta)
	}
}

// StaleRetryDelay returns a uniformly random delay in [60, 300] seconds,
// used both for outdated timers and for transient fetch failures. The
// spread avoids rescanning a whole batch of lands at once.
func StaleRetryDelay() int {
	return staleRetryMin + rand.IntN(staleRetryMax-staleRetryMin+1)
}
