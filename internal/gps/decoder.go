// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// NMEA 0183 caps sentences at 82 characters; anything much longer is line noise.
const maxSentenceLen = 120

const knotsToKmh = 1.852

// Decoder turns a byte stream of NMEA sentences into fixes.
//
// Only RMC and GGA are used: RMC carries position, speed and date, GGA
// carries altitude and the satellite count. A void RMC or a GGA with no fix
// does not clear the last committed location; ageing it out is the Gate's job.
type Decoder struct {
	now func() time.Time

	line  []byte
	bytes uint64

	fix   Fix
	valid bool

	sats  int
	alt   float64
	speed float64
	date  nmea.Date

	sentences uint64
	failed    uint64
}

var _ StampedSource = (*Decoder)(nil)

// NewDecoder returns a Decoder stamping fixes with now. A nil now uses time.Now.
func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now, line: make([]byte, 0, maxSentenceLen)}
}

// Feed consumes one byte of the stream. A sentence it completes is stamped
// with the decoder clock.
func (d *Decoder) Feed(b byte) { d.feed(b, time.Time{}) }

// FeedAt consumes one byte that arrived from the receiver at at. A sentence
// it completes is stamped with at instead of the decoder clock.
func (d *Decoder) FeedAt(b byte, at time.Time) { d.feed(b, at) }

func (d *Decoder) feed(b byte, at time.Time) {
	d.bytes++
	switch b {
	case '$':
		d.line = append(d.line[:0], b)
	case '\r', '\n':
		if len(d.line) > 0 {
			if at.IsZero() {
				at = d.now()
			}
			d.decode(string(d.line), at)
			d.line = d.line[:0]
		}
	default:
		if len(d.line) == 0 {
			return
		}
		if len(d.line) >= maxSentenceLen {
			d.line = d.line[:0]
			d.failed++
			return
		}
		d.line = append(d.line, b)
	}
}

func (d *Decoder) LatestFix() Fix            { return d.fix }
func (d *Decoder) IsStructurallyValid() bool { return d.valid }
func (d *Decoder) BytesProcessed() uint64    { return d.bytes }

// Sentences returns the number of decoded and rejected sentences.
func (d *Decoder) Sentences() (ok, failed uint64) {
	return d.sentences, d.failed
}

func (d *Decoder) decode(line string, at time.Time) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		// partial sentences are normal right after the port opens
		d.failed++
		return
	}
	d.sentences++

	switch m := sentence.(type) {
	case nmea.RMC:
		if m.Date.Valid {
			d.date = m.Date
		}
		if m.Validity != nmea.ValidRMC {
			return
		}
		d.speed = m.Speed * knotsToKmh
		d.commit(m.Latitude, m.Longitude, utcFrom(d.date, m.Time), at)

	case nmea.GGA:
		d.sats = int(m.NumSatellites)
		if m.FixQuality == nmea.Invalid {
			// keep the last location but expose the live satellite count
			prev := d.fix
			prev.Satellites = d.sats
			d.fix = prev
			return
		}
		d.alt = m.Altitude
		d.commit(m.Latitude, m.Longitude, utcFrom(d.date, m.Time), at)
	}
}

func (d *Decoder) commit(lat, lon float64, utc, at time.Time) {
	d.fix = Fix{
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   d.alt,
		Speed:      d.speed,
		Satellites: d.sats,
		CapturedAt: at,
		UTC:        utc,
	}
	d.valid = true
}

func utcFrom(date nmea.Date, t nmea.Time) time.Time {
	if !date.Valid || !t.Valid {
		return time.Time{}
	}
	return time.Date(2000+date.YY, time.Month(date.MM), date.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
