// Package store persists land snapshots and fans out update events.
//
// The keyspace mirrors the wire contract: one JSON snapshot per land under
// a TTL'd key, a single aggregate hash for bulk reads, and one pub/sub
// channel carrying every successful refresh.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/landwatch/landwatch/internal/landstate"
)

const (
	// AggregateKey is the hash holding every land's latest snapshot,
	// field str(landNumber) -> snapshot JSON.
	AggregateKey = "app:lands:states"

	// UpdateChannel carries one UpdateEvent JSON per successful refresh.
	UpdateChannel = "app:lands:states:channel"

	landKeyPrefix  = "app:land:"
	landKeySuffix  = ":state"
	landKeyPattern = landKeyPrefix + "*" + landKeySuffix
)

// Store is the persistence port the tracker, API and stream layers share.
// Get returns (nil, nil) on a miss. The channel returned by Subscribe is
// closed when ctx is cancelled or the store shuts down.
type Store interface {
	Put(ctx context.Context, land int, snap *landstate.CachedSnapshot, ttl int) error
	Get(ctx context.Context, land int) (*landstate.CachedSnapshot, error)
	Keys(ctx context.Context) ([]int, error)
	ReadAll(ctx context.Context) (map[int]*landstate.CachedSnapshot, error)
	Publish(ctx context.Context, ev *landstate.UpdateEvent) error
	Subscribe(ctx context.Context) (<-chan *landstate.UpdateEvent, error)
	Close() error
}

// Sweeper prunes aggregate entries whose snapshots have expired. Implemented
// by both stores; driven by the Janitor.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// LandKey returns the per-land snapshot key.
func LandKey(land int) string {
	return fmt.Sprintf("%s%d%s", landKeyPrefix, land, landKeySuffix)
}

// ParseLandKey extracts the land number from a per-land snapshot key.
func ParseLandKey(key string) (int, bool) {
	if !strings.HasPrefix(key, landKeyPrefix) || !strings.HasSuffix(key, landKeySuffix) {
		return 0, false
	}
	mid := key[len(landKeyPrefix) : len(key)-len(landKeySuffix)]
	land, err := strconv.Atoi(mid)
	if err != nil || land < 0 {
		return 0, false
	}
	return land, true
}
