// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const intakeQueue = 64

// StampedSource is a Source that takes the arrival instant of every byte.
// Drain prefers it so a fix is aged from when its bytes left the receiver.
type StampedSource interface {
	Source
	FeedAt(b byte, at time.Time)
}

// chunk is one read from the receiver and the instant it completed.
type chunk struct {
	data []byte
	at   time.Time
}

// Intake moves bytes from a blocking reader (serial port, simulator) to the
// tracker loop. The reader runs in its own goroutine; Drain hands the queued
// bytes to a Source from the caller's goroutine within a bounded time slice.
type Intake struct {
	r   io.ReadCloser
	ch  chan chunk
	log logrus.FieldLogger

	dropped atomic.Uint64

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// NewIntake starts reading r in the background.
func NewIntake(r io.ReadCloser, log logrus.FieldLogger) *Intake {
	in := &Intake{
		r:   r,
		ch:  make(chan chunk, intakeQueue),
		log: log,
	}
	go in.run()
	return in
}

func (in *Intake) run() {
	defer close(in.ch)

	buf := make([]byte, 256)
	for {
		n, err := in.r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			in.push(chunk{data: data, at: time.Now()})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				in.log.WithError(err).Warn("gps read stopped")
			}
			in.mu.Lock()
			in.err = err
			in.mu.Unlock()
			return
		}
	}
}

// push queues c. When the loop is behind, the oldest queued chunk is
// discarded so the queue always ends with the newest bytes.
func (in *Intake) push(c chunk) {
	for {
		select {
		case in.ch <- c:
			return
		default:
		}
		select {
		case old := <-in.ch:
			in.dropped.Add(uint64(len(old.data)))
		default:
		}
	}
}

// Drain feeds queued bytes into src until the queue is empty or slice has
// elapsed, and returns the number of bytes fed.
func (in *Intake) Drain(src Source, slice time.Duration) int {
	deadline := time.Now().Add(slice)
	fed := 0
	for {
		select {
		case c, ok := <-in.ch:
			if !ok {
				return fed
			}
			if ss, stamped := src.(StampedSource); stamped {
				for _, b := range c.data {
					ss.FeedAt(b, c.at)
				}
			} else {
				for _, b := range c.data {
					src.Feed(b)
				}
			}
			fed += len(c.data)
			if !time.Now().Before(deadline) {
				return fed
			}
		default:
			return fed
		}
	}
}

// Dropped returns the number of bytes discarded because the queue was full.
func (in *Intake) Dropped() uint64 { return in.dropped.Load() }

// Err returns the error that stopped the reader, if any.
func (in *Intake) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Close closes the underlying reader, which ends the background goroutine.
func (in *Intake) Close() error {
	var err error
	in.closeOnce.Do(func() { err = in.r.Close() })
	return err
}
