package models

import (
	"math/rand"
	"slices"
	"time"
)

// Interval is an inclusive range of milliseconds used to randomize the
// spacing between poll cycles
type Interval struct {
	MinMillis int64 `json:"min_ms" yaml:"min_ms"`
	MaxMillis int64 `json:"max_ms" yaml:"max_ms"`
}

// NewInterval builds an Interval from two durations
func NewInterval(min, max time.Duration) Interval {
	if max < min {
		min, max = max, min
	}
	return Interval{MinMillis: min.Milliseconds(), MaxMillis: max.Milliseconds()}
}

// Random returns a duration drawn uniformly from the interval
func (i Interval) Random() time.Duration {
	if i.MaxMillis <= i.MinMillis {
		return time.Duration(i.MinMillis) * time.Millisecond
	}
	n := i.MinMillis + rand.Int63n(i.MaxMillis-i.MinMillis+1)
	return time.Duration(n) * time.Millisecond
}

// Max returns the upper bound, used as the back-off after a failed cycle
func (i Interval) Max() time.Duration {
	return time.Duration(i.MaxMillis) * time.Millisecond
}

// IsZero reports whether the interval was never set
func (i Interval) IsZero() bool {
	return i.MinMillis == 0 && i.MaxMillis == 0
}

// Entity is one tracked Bilibili account and everything persisted about it
type Entity struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`

	// Unix seconds of the newest item already notified. Never decrease.
	VideoWatermark   int64 `json:"video_watermark"`
	DynamicWatermark int64 `json:"dynamic_watermark"`

	// Last observed live state
	Live bool `json:"live"`

	Destinations []string `json:"destinations"`
	Interval     Interval `json:"interval"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates a record whose watermarks start at now, so items
// published before the first subscription are never announced
func NewEntity(uid int64, name string, interval Interval, now time.Time) *Entity {
	return &Entity{
		UID:              uid,
		Name:             name,
		VideoWatermark:   now.Unix(),
		DynamicWatermark: now.Unix(),
		Interval:         interval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// HasDestination reports whether dest is subscribed
func (e *Entity) HasDestination(dest string) bool {
	return slices.Contains(e.Destinations, dest)
}

// AddDestination adds dest and reports whether it was new
func (e *Entity) AddDestination(dest string) bool {
	if e.HasDestination(dest) {
		return false
	}
	e.Destinations = append(e.Destinations, dest)
	return true
}

// RemoveDestination removes dest and reports whether it was present
func (e *Entity) RemoveDestination(dest string) bool {
	idx := slices.Index(e.Destinations, dest)
	if idx < 0 {
		return false
	}
	e.Destinations = slices.Delete(e.Destinations, idx, idx+1)
	return true
}

// Active reports whether the entity should have a running poller
func (e *Entity) Active() bool {
	return len(e.Destinations) > 0
}

// Apply merges a poller's progress. Watermarks only move forward; the live
// flag is overwritten.
func (e *Entity) Apply(p Progress) {
	e.VideoWatermark = max(e.VideoWatermark, p.VideoWatermark)
	e.DynamicWatermark = max(e.DynamicWatermark, p.DynamicWatermark)
	e.Live = p.Live
}

// Progress returns the entity's current watermark state
func (e *Entity) Progress() Progress {
	return Progress{
		VideoWatermark:   e.VideoWatermark,
		DynamicWatermark: e.DynamicWatermark,
		Live:             e.Live,
	}
}

// Clone returns a deep copy
func (e *Entity) Clone() *Entity {
	c := *e
	c.Destinations = slices.Clone(e.Destinations)
	return &c
}

// Progress is what a poller persists after a completed cycle
type Progress struct {
	VideoWatermark   int64 `json:"video_watermark"`
	DynamicWatermark int64 `json:"dynamic_watermark"`
	Live             bool  `json:"live"`
}
