// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

type simulator struct {
	start     time.Time
	period    time.Duration
	centerLat float64
	centerLon float64

	pending []byte
	next    time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewSimulator returns a reader that emits one RMC+GGA pair per period,
// driving in a ~500 m circle around the given point. It stands in for the
// receiver's UART when no hardware is attached.
func NewSimulator(lat, lon float64, period time.Duration) io.ReadCloser {
	if period <= 0 {
		period = time.Second
	}
	now := time.Now()
	return &simulator{
		start:     now,
		period:    period,
		centerLat: lat,
		centerLon: lon,
		next:      now,
		done:      make(chan struct{}),
	}
}

func (s *simulator) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		wait := time.Until(s.next)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.done:
				timer.Stop()
				return 0, io.EOF
			case <-timer.C:
			}
		}
		select {
		case <-s.done:
			return 0, io.EOF
		default:
		}
		s.pending = s.sentences(time.Now())
		s.next = s.next.Add(s.period)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *simulator) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *simulator) sentences(now time.Time) []byte {
	t := now.Sub(s.start).Seconds()
	const radius = 0.005

	lat := s.centerLat + radius*math.Sin(t*0.01)
	lon := s.centerLon + radius*math.Cos(t*0.01)
	knots := (50 + 10*math.Sin(t*0.3)) / knotsToKmh
	course := math.Mod(t*0.6, 360)

	utc := now.UTC()
	hms := fmt.Sprintf("%02d%02d%02d.%02d", utc.Hour(), utc.Minute(), utc.Second(), utc.Nanosecond()/1e7)
	latS, ns := nmeaCoord(lat, 2, "N", "S")
	lonS, ew := nmeaCoord(lon, 3, "E", "W")

	rmc := fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.1f,%.1f,%s,,,A",
		hms, latS, ns, lonS, ew, knots, course, utc.Format("020106"))
	gga := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,09,0.9,76.0,M,-34.0,M,,",
		hms, latS, ns, lonS, ew)
	return []byte(withChecksum(rmc) + "\r\n" + withChecksum(gga) + "\r\n")
}

// nmeaCoord formats decimal degrees as NMEA (d)ddmm.mmmm plus hemisphere.
func nmeaCoord(v float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	min := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(deg), min), hemi
}

func withChecksum(body string) string {
	var ck byte
	for i := 0; i < len(body); i++ {
		ck ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, ck)
}
