package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/landwatch/landwatch/internal/landstate"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Memory is an in-process Store used by package tests and local development.
// It mirrors the Redis semantics: per-land expiry, an aggregate view, and
// pub/sub fan-out.
type Memory struct {
	// Clock is injectable for expiry tests. Defaults to time.Now.
	Clock func() time.Time

	mu      sync.Mutex
	items   map[int]memoryEntry
	subs    map[int]chan *landstate.UpdateEvent
	nextSub int
	closed  bool
	doneCh  chan struct{}
}

type memoryEntry struct {
	snap      landstate.CachedSnapshot
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		Clock:  time.Now,
		items:  make(map[int]memoryEntry),
		subs:   make(map[int]chan *landstate.UpdateEvent),
		doneCh: make(chan struct{}),
	}
}

// Put stores the snapshot with the given TTL in seconds.
func (m *Memory) Put(ctx context.Context, land int, snap *landstate.CachedSnapshot, ttl int) error {
	if ttl <= 0 {
		return fmt.Errorf("store: put land %d: non-positive ttl %d", land, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items[land] = memoryEntry{
		snap:      *snap,
		expiresAt: m.Clock().Add(time.Duration(ttl) * time.Second),
	}
	return nil
}

// Get returns the land's snapshot, or (nil, nil) when absent or expired.
func (m *Memory) Get(ctx context.Context, land int) (*landstate.CachedSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	entry, ok := m.items[land]
	if !ok {
		return nil, nil
	}
	if !m.Clock().Before(entry.expiresAt) {
		delete(m.items, land)
		return nil, nil
	}
	snap := entry.snap
	return &snap, nil
}

// Keys returns the land numbers with live snapshots in ascending order.
func (m *Memory) Keys(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	now := m.Clock()
	var lands []int
	for land, entry := range m.items {
		if now.Before(entry.expiresAt) {
			lands = append(lands, land)
		}
	}
	slices.Sort(lands)
	return lands, nil
}

// ReadAll returns every live snapshot keyed by land number.
func (m *Memory) ReadAll(ctx context.Context) (map[int]*landstate.CachedSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	now := m.Clock()
	out := make(map[int]*landstate.CachedSnapshot, len(m.items))
	for land, entry := range m.items {
		if !now.Before(entry.expiresAt) {
			continue
		}
		snap := entry.snap
		out[land] = &snap
	}
	return out, nil
}

// Publish fans the event out to every subscriber. A subscriber whose buffer
// is full misses the event rather than blocking the publisher.
func (m *Memory) Publish(ctx context.Context, ev *landstate.UpdateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of update events. The channel closes when ctx
// is cancelled or the store is closed.
func (m *Memory) Subscribe(ctx context.Context) (<-chan *landstate.UpdateEvent, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := m.nextSub
	m.nextSub++
	sub := make(chan *landstate.UpdateEvent, 64)
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.doneCh:
		}
		m.removeSub(id)
	}()
	return sub, nil
}

func (m *Memory) removeSub(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.Clock()
	removed := 0
	for land, entry := range m.items {
		if !now.Before(entry.expiresAt) {
			delete(m.items, land)
			removed++
		}
	}
	return removed, nil
}

// Close shuts the store down and closes every subscriber channel.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.doneCh)
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}
