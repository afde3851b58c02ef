// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/asset_tracker/internal/link"
)

// ErrRejected is wrapped by every error built from an ERROR / +CME ERROR reply.
var ErrRejected = errors.New("modem: command rejected")

// Port is the serial line to the modem. go.bug.st/serial ports satisfy it.
// A read that times out returns 0, nil.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// terminal decides whether line ends a command's response.
type terminal func(line string) (done bool, err error)

func untilOK(line string) (bool, error) {
	switch {
	case line == "OK":
		return true, nil
	case line == "ERROR", strings.HasPrefix(line, "+CME ERROR"):
		return false, fmt.Errorf("%w: %s", ErrRejected, line)
	}
	return false, nil
}

func until(want string) terminal {
	return func(line string) (bool, error) {
		if line == want {
			return true, nil
		}
		return untilOK(line)
	}
}

// exec writes cmd and collects response lines until term accepts one. The
// echo and blank lines are skipped. No answer before the deadline yields
// link.ErrUnresponsive. Callers hold cmdMu.
func (m *SIM800) exec(ctx context.Context, cmd string, timeout time.Duration, term terminal) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	m.pending = m.pending[:0]
	_ = m.port.ResetInputBuffer()
	if _, err := m.port.Write([]byte(cmd + "\r")); err != nil {
		return nil, fmt.Errorf("modem: %s: write: %w", cmd, err)
	}

	var lines []string
	for {
		line, err := m.readLine(ctx, deadline)
		if err != nil {
			return lines, fmt.Errorf("modem: %s: %w", cmd, err)
		}
		if line == "" || line == cmd {
			continue
		}
		done, err := term(line)
		if err != nil {
			return lines, fmt.Errorf("modem: %s: %w", cmd, err)
		}
		if done {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func (m *SIM800) command(ctx context.Context, cmd string) ([]string, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	return m.exec(ctx, cmd, m.cmdTimeout, untilOK)
}

func (m *SIM800) readLine(ctx context.Context, deadline time.Time) (string, error) {
	buf := make([]byte, 128)
	for {
		if i := bytes.IndexByte(m.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(m.pending[:i]))
			m.pending = append(m.pending[:0], m.pending[i+1:]...)
			return line, nil
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		if time.Now().After(deadline) {
			return "", link.ErrUnresponsive
		}
		n, err := m.port.Read(buf)
		if err != nil {
			return "", err
		}
		m.pending = append(m.pending, buf[:n]...)
	}
}

// fields returns the comma separated values of the first line carrying
// prefix, e.g. "+CSQ:" in "+CSQ: 17,0".
func fields(lines []string, prefix string) []string {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(l, prefix)), ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return nil
}

func intField(lines []string, prefix string, idx int) (int, bool) {
	f := fields(lines, prefix)
	if idx >= len(f) {
		return 0, false
	}
	v, err := strconv.Atoi(f[idx])
	if err != nil {
		return 0, false
	}
	return v, true
}
