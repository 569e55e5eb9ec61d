// Package landstate models the parsed state of a game land and the
// snapshot/update payloads exchanged through the store. Parsing and the
// refresh policy are pure; nothing in this package touches the network.
package landstate

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the wire format for every datetime this service emits or
// consumes: zone-less local time with microsecond precision.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Timestamp wraps time.Time with the service-wide JSON encoding.
// The zero value marshals to JSON null.
type Timestamp struct {
	time.Time
}

// NewTimestamp builds a Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// FromUnixMilli converts a millisecond epoch value into a Timestamp,
// truncating to whole seconds. Zero or negative input yields the zero
// Timestamp (JSON null).
func FromUnixMilli(ms int64) Timestamp {
	if ms <= 0 {
		return Timestamp{}
	}
	return Timestamp{Time: time.Unix(ms/1000, 0)}
}

// MarshalJSON encodes the timestamp as a quoted TimeLayout string, or null
// when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(TimeLayout))
}

// UnmarshalJSON decodes null or a quoted TimeLayout string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// Position is an entity's tile coordinate on the land.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ParsedTree is a single tree entity. Chops counts harvest hits on the
// current growth cycle; Current is the growth stage (4 = mature) and
// defaults to mature when the game omits the static.
type ParsedTree struct {
	MID        string    `json:"mid"`
	Entity     string    `json:"entity"`
	Position   Position  `json:"position"`
	State      string    `json:"state"`
	UTCRefresh Timestamp `json:"utcRefresh"`
	Chops      int       `json:"chops"`
	Current    int       `json:"current"`
	LastTimer  Timestamp `json:"lastTimer"`
	LastChop   Timestamp `json:"lastChop"`
}

// ParsedIndustry is a windmill, winery, grill or kiln entity.
type ParsedIndustry struct {
	MID         string    `json:"mid"`
	Entity      string    `json:"entity"`
	Position    Position  `json:"position"`
	State       string    `json:"state"`
	AllowPublic bool      `json:"allowPublic"`
	InUseBy     string    `json:"inUseBy"`
	FinishTime  Timestamp `json:"finishTime"`
	FiredUntil  Timestamp `json:"firedUntil"`
}

// ParsedLandState is the typed view of one land's raw state.
type ParsedLandState struct {
	LandNumber   int              `json:"landNumber"`
	IsBlocked    bool             `json:"isBlocked"`
	TotalPlayers int              `json:"totalPlayers"`
	Trees        []ParsedTree     `json:"trees"`
	Windmills    []ParsedIndustry `json:"windmills"`
	Wineries     []ParsedIndustry `json:"wineries"`
	Grills       []ParsedIndustry `json:"grills"`
	Kilns        []ParsedIndustry `json:"kilns"`
}

// CachedSnapshot is the stored form of one land's raw state. State carries
// the raw blob byte-for-byte as fetched; ExpiresAt equals CreatedAt plus the
// refresh delay chosen at store time.
type CachedSnapshot struct {
	CreatedAt Timestamp       `json:"createdAt"`
	ExpiresAt Timestamp       `json:"expiresAt"`
	State     json.RawMessage `json:"state"`
}

// UpdateEvent is the payload published on the update channel after every
// successful put: the snapshot plus the land it belongs to.
type UpdateEvent struct {
	LandNumber int             `json:"landNumber"`
	CreatedAt  Timestamp       `json:"createdAt"`
	ExpiresAt  Timestamp       `json:"expiresAt"`
	State      json.RawMessage `json:"state"`
}

// Snapshot returns the snapshot embedded in the event.
func (e *UpdateEvent) Snapshot() *CachedSnapshot {
	return &CachedSnapshot{
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
		State:     e.State,
	}
}

// EventFor pairs a snapshot with its land number for publishing.
func EventFor(land int, snap *CachedSnapshot) *UpdateEvent {
	return &UpdateEvent{
		LandNumber: land,
		CreatedAt:  snap.CreatedAt,
		ExpiresAt:  snap.ExpiresAt,
		State:      snap.State,
	}
}

// Live reports whether the snapshot has not yet expired at the given instant.
func (s *CachedSnapshot) Live(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}
