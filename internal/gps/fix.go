// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "time"

// Fix represents a single decoded position sample.
//
// A Fix is a value: the decoder builds a new one for every location-bearing
// sentence and never mutates one it has handed out.
type Fix struct {
	Latitude   float64 // decimal degrees, south negative
	Longitude  float64 // decimal degrees, west negative
	Altitude   float64 // meters above mean sea level
	Speed      float64 // km/h over ground
	Satellites int     // satellites in use

	// CapturedAt is the local instant the sentence was decoded. It keeps the
	// monotonic clock reading so Age is immune to wall clock steps.
	CapturedAt time.Time

	// UTC is the receiver's own date/time, zero when the receiver has not
	// reported one yet.
	UTC time.Time
}

// Age returns how long ago the fix was captured.
func (f Fix) Age(now time.Time) time.Duration {
	return now.Sub(f.CapturedAt)
}

// Timestamp returns the receiver time when known, otherwise the capture instant.
func (f Fix) Timestamp() time.Time {
	if !f.UTC.IsZero() {
		return f.UTC
	}
	return f.CapturedAt.UTC()
}
