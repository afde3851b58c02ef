// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"time"
)

// Values of the status field.
const (
	StatusOK            = "ok"
	StatusNoFix         = "no_fix"
	StatusConnected     = "connected"
	StatusDisconnecting = "disconnecting"
	StatusOffline       = "offline"
)

// Values of the gps field of a health Status.
const (
	GPSNoData    = "no_data"   // no bytes from the receiver yet
	GPSSearching = "searching" // receiver talking, no fix ever committed
	GPSStale     = "stale"     // last fix older than the freshness window
	GPSFix       = "fix"
)

// Status is the health record published on the status topic, instead of a
// Record when there is no fresh fix and periodically otherwise.
type Status struct {
	Status     string    `json:"status"`
	GPSFix     bool      `json:"gps_fix"`
	Satellites int       `json:"satellites"`
	Signal     int       `json:"signal"`
	Uptime     int64     `json:"uptime"` // seconds
	Timestamp  time.Time `json:"timestamp"`

	Device  string `json:"device,omitempty"`
	BootID  string `json:"boot_id,omitempty"`
	Link    string `json:"link"`
	Session string `json:"session"`
	GPS     string `json:"gps"`
}

// Marshal encodes the status as JSON.
func (s Status) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Announcement marks session lifecycle events on the status topic:
// connected, disconnecting and the broker-held offline will.
type Announcement struct {
	Status    string    `json:"status"`
	Device    string    `json:"device,omitempty"`
	BootID    string    `json:"boot_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Marshal encodes the announcement as JSON.
func (a Announcement) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// OfflineWill returns the last-will payload registered with the broker.
func OfflineWill(device, bootID string) string {
	b, _ := Announcement{Status: StatusOffline, Device: device, BootID: bootID}.Marshal()
	return string(b)
}
