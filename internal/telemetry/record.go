// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"math"
	"time"

	"github.com/relabs-tech/asset_tracker/internal/gps"
)

// Record is the position message published on the GPS topic.
type Record struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Speed      float64   `json:"speed"`
	Satellites int       `json:"satellites"`
	Valid      bool      `json:"valid"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRecord builds a Record from fix. Coordinates keep 6 decimals (about
// 0.1 m), altitude and speed 2.
func NewRecord(fix gps.Fix, valid bool) Record {
	return Record{
		Latitude:   round(fix.Latitude, 6),
		Longitude:  round(fix.Longitude, 6),
		Altitude:   round(fix.Altitude, 2),
		Speed:      round(fix.Speed, 2),
		Satellites: fix.Satellites,
		Valid:      valid,
		Timestamp:  fix.Timestamp(),
	}
}

// Marshal encodes the record as JSON.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
