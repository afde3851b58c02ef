// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/asset_tracker/internal/gps"
)

func TestNewRecord(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 35, 19, 0, time.UTC)
	fix := gps.Fix{
		Latitude:   48.1173001234,
		Longitude:  -11.5166669876,
		Altitude:   545.4321,
		Speed:      41.4848,
		Satellites: 8,
		CapturedAt: utc.Add(time.Second),
		UTC:        utc,
	}

	r := NewRecord(fix, true)
	if r.Latitude != 48.1173 || r.Longitude != -11.516667 {
		t.Fatalf("unexpected coordinates %v %v", r.Latitude, r.Longitude)
	}
	if r.Altitude != 545.43 || r.Speed != 41.48 {
		t.Fatalf("unexpected altitude/speed %v %v", r.Altitude, r.Speed)
	}
	if !r.Timestamp.Equal(utc) {
		t.Fatalf("expected receiver time, got %v", r.Timestamp)
	}

	b, err := r.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"latitude", "longitude", "altitude", "speed", "satellites", "valid", "timestamp"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %q in %s", k, b)
		}
	}
	if len(m) != 7 {
		t.Fatalf("unexpected extra fields in %s", b)
	}
	if m["timestamp"] != "2026-03-01T12:35:19Z" {
		t.Fatalf("unexpected timestamp %v", m["timestamp"])
	}
}

func TestNewRecord_FallsBackToCaptureTime(t *testing.T) {
	captured := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	r := NewRecord(gps.Fix{CapturedAt: captured}, true)
	if r.Timestamp.Location() != time.UTC || !r.Timestamp.Equal(captured) {
		t.Fatalf("expected capture instant in UTC, got %v", r.Timestamp)
	}
}

func TestStatusFields(t *testing.T) {
	s := Status{
		Status:     StatusNoFix,
		Satellites: 3,
		Signal:     17,
		Uptime:     60,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Device:     "ESP32_GPS_Tracker",
		Link:       "up",
		Session:    "connected",
		GPS:        GPSSearching,
	}
	b, err := s.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"status":"no_fix"`, `"gps_fix":false`, `"satellites":3`, `"signal":17`, `"uptime":60`, `"gps":"searching"`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("expected %s in %s", want, b)
		}
	}
}

func TestOfflineWill(t *testing.T) {
	got := OfflineWill("ESP32_GPS_Tracker", "")
	if got != `{"status":"offline","device":"ESP32_GPS_Tracker"}` {
		t.Fatalf("unexpected will %s", got)
	}
}
