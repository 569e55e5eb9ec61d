// Package proxy maintains the outbound proxy roster handed to the browser
// bridge on each fetch attempt.
package proxy

import (
	"slices"
	"sync/atomic"
)

// Settings is one upstream proxy in the wire form the browser bridge
// expects: an http://host:port server plus optional credentials.
type Settings struct {
	Server   string `json:"server" yaml:"server"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Roster is an immutable proxy list with a rotating cursor.
type Roster struct {
	entries []Settings
	cursor  atomic.Uint64
}

// NewRoster copies the entries into a fresh roster.
func NewRoster(entries []Settings) *Roster {
	return &Roster{entries: slices.Clone(entries)}
}

// Next returns the next proxy in round-robin order. A nil or empty roster
// yields nil, which callers treat as a direct connection.
func (r *Roster) Next() *Settings {
	if r == nil || len(r.entries) == 0 {
		return nil
	}
	idx := (r.cursor.Add(1) - 1) % uint64(len(r.entries))
	s := r.entries[idx]
	return &s
}

// Len reports the roster size.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
