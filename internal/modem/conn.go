// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package modem

import (
	"net"
	"os"
	"sync"
	"time"
)

// dataConn is the TCP stream carried by the modem in transparent mode.
type dataConn struct {
	drv    *SIM800
	remote string

	readMu  sync.Mutex
	pending []byte

	mu           sync.Mutex
	closed       bool
	readDeadline time.Time

	closeOnce sync.Once
	closeErr  error
}

func (c *dataConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	for {
		c.mu.Lock()
		closed, deadline := c.closed, c.readDeadline
		c.mu.Unlock()
		if closed {
			return 0, net.ErrClosed
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, os.ErrDeadlineExceeded
		}
		// the port read timeout bounds each pass
		n, err := c.drv.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (c *dataConn) Write(p []byte) (int, error) {
	if c.isClosed() {
		return 0, net.ErrClosed
	}
	return c.drv.port.Write(p)
}

// Close hangs the connection up. Pending reads return net.ErrClosed first.
func (c *dataConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.readMu.Lock()
		defer c.readMu.Unlock()
		c.closeErr = c.drv.hangUp(c)
	})
	return c.closeErr
}

func (c *dataConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *dataConn) LocalAddr() net.Addr  { return addr("modem") }
func (c *dataConn) RemoteAddr() net.Addr { return addr(c.remote) }

func (c *dataConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *dataConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline is accepted but writes are bounded by the UART only.
func (c *dataConn) SetWriteDeadline(time.Time) error { return nil }

type addr string

func (a addr) Network() string { return "tcp" }
func (a addr) String() string  { return string(a) }
