// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package modem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/relabs-tech/asset_tracker/internal/link"
)

// ErrNotRegistered is returned when the modem did not register on the
// network before the timeout.
var ErrNotRegistered = errors.New("modem: not registered on network")

// ErrBusy is returned by Dial while a data connection is already open.
var ErrBusy = errors.New("modem: data connection already open")

// SIM800Config configures the SIM800 driver.
type SIM800Config struct {
	// CommandTimeout bounds a plain AT command.
	CommandTimeout time.Duration
	// ResetPin drives the modem RST line. Nil falls back to AT+CFUN=1,1.
	ResetPin gpio.PinOut
}

// SIM800 drives a SIM800 family modem over its AT command port and carries
// one TCP connection in transparent mode (AT+CIPMODE=1).
//
// While a data connection is open the port belongs to the byte stream:
// IsAttached reports the connection and SignalQuality the last value read
// in command mode.
type SIM800 struct {
	port     Port
	resetPin gpio.PinOut
	log      logrus.FieldLogger

	cmdTimeout  time.Duration
	longTimeout time.Duration // CGATT, CIICR, CIPSTART
	pollEvery   time.Duration
	resetPulse  time.Duration
	bootDelay   time.Duration
	guardTime   time.Duration
	sleep       func(time.Duration)

	cmdMu   sync.Mutex
	pending []byte

	mu     sync.Mutex
	conn   *dataConn
	ip     string
	signal int
}

var _ link.Driver = (*SIM800)(nil)

// NewSIM800 wraps an open modem port.
func NewSIM800(port Port, cfg SIM800Config, log logrus.FieldLogger) *SIM800 {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	_ = port.SetReadTimeout(100 * time.Millisecond)
	return &SIM800{
		port:        port,
		resetPin:    cfg.ResetPin,
		log:         log,
		cmdTimeout:  cfg.CommandTimeout,
		longTimeout: 85 * time.Second,
		pollEvery:   time.Second,
		resetPulse:  200 * time.Millisecond,
		bootDelay:   3 * time.Second,
		guardTime:   time.Second,
		sleep:       time.Sleep,
		signal:      link.SignalUnknown,
	}
}

// Reset restarts the modem, waits until it answers AT again and turns the
// command echo off.
func (m *SIM800) Reset(ctx context.Context) error {
	if c := m.current(); c != nil {
		_ = c.Close()
	}
	m.mu.Lock()
	m.ip = ""
	m.mu.Unlock()

	if m.resetPin != nil {
		m.log.Info("pulsing modem reset line")
		if err := m.resetPin.Out(gpio.Low); err != nil {
			return fmt.Errorf("modem: reset line: %w", err)
		}
		m.sleep(m.resetPulse)
		if err := m.resetPin.Out(gpio.High); err != nil {
			return fmt.Errorf("modem: reset line: %w", err)
		}
	} else {
		m.log.Info("restarting modem (AT+CFUN=1,1)")
		if _, err := m.command(ctx, "AT+CFUN=1,1"); err != nil {
			return err
		}
	}
	m.sleep(m.bootDelay)

	for {
		_, err := m.command(ctx, "AT")
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("modem: no answer after restart: %w", link.ErrUnresponsive)
		}
		m.sleep(m.pollEvery)
	}
	if _, err := m.command(ctx, "ATE0"); err != nil {
		return err
	}
	if info, err := m.command(ctx, "ATI"); err == nil && len(info) > 0 {
		m.log.WithField("modem", strings.Join(info, " ")).Info("modem ready")
	}
	return nil
}

// WaitForNetwork polls the registration status until the modem is
// registered at home or roaming.
func (m *SIM800) WaitForNetwork(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		lines, err := m.command(ctx, "AT+CREG?")
		if err != nil && errors.Is(err, link.ErrUnresponsive) {
			return err
		}
		stat, _ := intField(lines, "+CREG:", 1)
		if stat == 1 || stat == 5 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w (stat %d)", ErrNotRegistered, stat)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (stat %d): %w", ErrNotRegistered, stat, ctx.Err())
		case <-time.After(m.pollEvery):
		}
	}
}

// ActivateDataContext attaches to packet service and brings the PDP context
// up with the given access point credentials.
func (m *SIM800) ActivateDataContext(ctx context.Context, apn, user, pass string) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	if _, err := m.exec(ctx, "AT+CIPSHUT", m.cmdTimeout, until("SHUT OK")); err != nil {
		return err
	}
	steps := []struct {
		cmd     string
		timeout time.Duration
	}{
		{"AT+CIPMODE=1", m.cmdTimeout},
		{"AT+CGATT=1", m.longTimeout},
		{fmt.Sprintf("AT+CSTT=%q,%q,%q", apn, user, pass), m.cmdTimeout},
		{"AT+CIICR", m.longTimeout},
	}
	for _, s := range steps {
		if _, err := m.exec(ctx, s.cmd, s.timeout, untilOK); err != nil {
			return err
		}
	}

	var ip string
	_, err := m.exec(ctx, "AT+CIFSR", m.cmdTimeout, func(line string) (bool, error) {
		if net.ParseIP(line) != nil {
			ip = line
			return true, nil
		}
		return untilOK(line)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.ip = ip
	m.mu.Unlock()
	m.log.WithField("ip", ip).Info("PDP context active")
	return nil
}

// IsAttached reports packet service attachment with a local address assigned.
func (m *SIM800) IsAttached(ctx context.Context) (bool, error) {
	m.mu.Lock()
	conn, ip := m.conn, m.ip
	m.mu.Unlock()
	if conn != nil {
		return !conn.isClosed(), nil
	}
	if ip == "" {
		return false, nil
	}
	lines, err := m.command(ctx, "AT+CGATT?")
	if err != nil {
		return false, err
	}
	attached, ok := intField(lines, "+CGATT:", 0)
	return ok && attached == 1, nil
}

// SignalQuality returns the RSSI index 0..31, or link.SignalUnknown.
func (m *SIM800) SignalQuality(ctx context.Context) (int, error) {
	if m.current() != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.signal, nil
	}
	lines, err := m.command(ctx, "AT+CSQ")
	if err != nil {
		return link.SignalUnknown, err
	}
	rssi, ok := intField(lines, "+CSQ:", 0)
	if !ok || rssi < 0 || rssi > 31 {
		rssi = link.SignalUnknown
	}
	m.mu.Lock()
	m.signal = rssi
	m.mu.Unlock()
	return rssi, nil
}

// Dial opens a transparent TCP connection to addr.
func (m *SIM800) Dial(ctx context.Context, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("modem: dial %s: %w", addr, err)
	}
	if m.current() != nil {
		return nil, ErrBusy
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	cmd := fmt.Sprintf("AT+CIPSTART=\"TCP\",%q,%q", host, port)
	_, err = m.exec(ctx, cmd, m.longTimeout, func(line string) (bool, error) {
		switch {
		case line == "CONNECT":
			return true, nil
		case line == "OK":
			// command accepted, connection still pending
			return false, nil
		case strings.HasPrefix(line, "CONNECT FAIL"), line == "ALREADY CONNECT":
			return false, fmt.Errorf("%w: %s", ErrRejected, line)
		}
		return untilOK(line)
	})
	if err != nil {
		return nil, err
	}

	c := &dataConn{
		drv:     m,
		remote:  addr,
		pending: append([]byte(nil), m.pending...),
	}
	m.pending = m.pending[:0]

	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
	m.log.WithField("remote", addr).Debug("transparent connection open")
	return c, nil
}

// Deactivate closes any open connection and shuts the PDP context down.
func (m *SIM800) Deactivate(ctx context.Context) error {
	if c := m.current(); c != nil {
		_ = c.Close()
	}
	m.mu.Lock()
	m.ip = ""
	m.mu.Unlock()

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	_, err := m.exec(ctx, "AT+CIPSHUT", m.cmdTimeout, until("SHUT OK"))
	return err
}

// Close releases the serial port.
func (m *SIM800) Close() error {
	return m.port.Close()
}

func (m *SIM800) current() *dataConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// hangUp leaves transparent mode with the +++ escape sequence and closes the
// TCP connection.
func (m *SIM800) hangUp(c *dataConn) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.conn == c {
			m.conn = nil
		}
		m.mu.Unlock()
	}()

	m.sleep(m.guardTime)
	if _, err := m.port.Write([]byte("+++")); err != nil {
		return fmt.Errorf("modem: escape: %w", err)
	}
	m.sleep(m.guardTime)

	ctx, cancel := context.WithTimeout(context.Background(), m.cmdTimeout)
	defer cancel()
	_, err := m.exec(ctx, "AT+CIPCLOSE", m.cmdTimeout, until("CLOSE OK"))
	return err
}
