// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clock provides the wall-clock and monotonic time sources used to
// timestamp store entries and to measure task intervals without being
// affected by system clock adjustments.
package clock

import "time"

// Clock provides the two time sources a session needs: a wall-clock
// timestamp for persisted entries, and a monotonic timestamp for measuring
// elapsed durations (sleep intervals, sweep pacing) that must not jump
// backward if the system clock is stepped.
type Clock interface {
	// NowWall returns the current wall-clock time as a Unix timestamp with
	// sub-second precision, suitable for storing alongside a log entry.
	NowWall() float64

	// NowMonotonic returns a monotonic reading in seconds, comparable only
	// to other NowMonotonic readings from the same Clock instance.
	NowMonotonic() float64
}

// System is the production Clock, backed by the Go runtime's wall and
// monotonic clocks (time.Now() carries both readings in one value).
type System struct {
	start time.Time
}

// NewSystem creates a System clock anchored at construction time.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NowWall implements Clock.
func (c *System) NowWall() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// NowMonotonic implements Clock.
func (c *System) NowMonotonic() float64 {
	return time.Since(c.start).Seconds()
}

// Fixed is a deterministic Clock for tests: NowWall and NowMonotonic return
// the values last set by SetWall/Advance, never reading the system clock.
type Fixed struct {
	wall float64
	mono float64
}

// NewFixed creates a Fixed clock starting at the given wall-clock timestamp.
func NewFixed(wall float64) *Fixed {
	return &Fixed{wall: wall}
}

// NowWall implements Clock.
func (f *Fixed) NowWall() float64 { return f.wall }

// NowMonotonic implements Clock.
func (f *Fixed) NowMonotonic() float64 { return f.mono }

// Advance moves both the wall and monotonic readings forward by d.
func (f *Fixed) Advance(d time.Duration) {
	secs := d.Seconds()
	f.wall += secs
	f.mono += secs
}

// SetWall overrides the wall-clock reading without affecting the monotonic one.
func (f *Fixed) SetWall(wall float64) { f.wall = wall }
