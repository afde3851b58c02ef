// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"time"
)

// ErrSourceUnavailable is reported while the position source has not produced
// enough bytes to be considered alive.
var ErrSourceUnavailable = errors.New("gps: source unavailable")

// Source is the position source driver consumed by the tracker.
type Source interface {
	Feed(b byte)
	LatestFix() Fix
	// IsStructurallyValid reports whether the decoder has committed a
	// location from a well-formed sentence with an active fix.
	IsStructurallyValid() bool
	BytesProcessed() uint64
}

// IsFresh reports whether fix is usable at now: the driver must consider it
// valid and it must be younger than maxAge.
func IsFresh(fix Fix, valid bool, now time.Time, maxAge time.Duration) bool {
	if !valid || fix.CapturedAt.IsZero() {
		return false
	}
	return fix.Age(now) < maxAge
}

// Gate layers the time-based freshness policy on top of a Source.
type Gate struct {
	Source   Source
	MaxAge   time.Duration
	MinBytes uint64
}

// Evaluate returns the latest fix and whether it is fresh at now.
func (g *Gate) Evaluate(now time.Time) (Fix, bool) {
	fix := g.Source.LatestFix()
	return fix, IsFresh(fix, g.Source.IsStructurallyValid(), now, g.MaxAge)
}

// Ready returns ErrSourceUnavailable until the source has seen more than
// MinBytes bytes.
func (g *Gate) Ready() error {
	if g.Source.BytesProcessed() <= g.MinBytes {
		return ErrSourceUnavailable
	}
	return nil
}
