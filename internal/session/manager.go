// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

var (
	errLinkLost = errors.New("data link lost")
	errNotAlive = errors.New("transport connection not alive")
)

// Link is the part of the link manager the session depends on.
type Link interface {
	IsUp() bool
	Activate(ctx context.Context, now time.Time) error
}

// Credentials authenticate the session. A nil *Credentials connects anonymously.
type Credentials struct {
	Username string
	Password string
}

// Transport is the publish/subscribe client carried over the link.
// Disconnect must release everything Connect acquired, including the byte
// stream, and must be safe to call on a transport that never connected.
type Transport interface {
	Connect(ctx context.Context, clientID string, creds *Credentials) error
	Publish(ctx context.Context, topic string, payload []byte) error
	IsAlive() bool
	Disconnect()
}

// State is the session state.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Config holds session identity and timing.
type Config struct {
	ClientID    string
	Credentials *Credentials

	BackoffMin time.Duration
	BackoffMax time.Duration

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Snapshot is a read-only copy of the session state for health reporting.
type Snapshot struct {
	State       State
	Interval    time.Duration
	LastAttempt time.Time
	Attempts    int
	Failures    int
}

// Manager owns the telemetry session: connect, publish, disconnect and the
// backoff-governed reconnect policy. It never activates the link from
// Connect; only Reconnect drives the link manager. Not safe for concurrent use.
type Manager struct {
	link Link
	tr   Transport
	cfg  Config
	log  logrus.FieldLogger

	backoff *backoff.Backoff

	state       State
	interval    time.Duration
	lastAttempt time.Time
	attempted   bool
	attempts    int
	failures    int
}

// NewManager returns a disconnected session manager.
func NewManager(link Link, tr Transport, cfg Config, log logrus.FieldLogger) *Manager {
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	return &Manager{
		link: link,
		tr:   tr,
		cfg:  cfg,
		log:  log,
		backoff: &backoff.Backoff{
			Min:    cfg.BackoffMin,
			Max:    cfg.BackoffMax,
			Factor: 2,
			Jitter: false,
		},
		interval: cfg.BackoffMin,
	}
}

// Connect performs one session handshake. It fails fast with LinkUnavailable
// when the link is not up. It does not touch the backoff on failure.
func (m *Manager) Connect(ctx context.Context, now time.Time) error {
	if !m.link.IsUp() {
		return &Error{Kind: LinkUnavailable}
	}
	if m.state == Connected {
		m.release()
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	err := m.tr.Connect(cctx, m.cfg.ClientID, m.cfg.Credentials)
	cancel()
	if err != nil {
		// a half-open handshake still holds the byte stream
		m.release()
		return &Error{Kind: HandshakeRejected, Err: err}
	}

	m.state = Connected
	m.reset()
	m.log.WithField("client_id", m.cfg.ClientID).Info("session connected")
	return nil
}

// Reconnect is the backoff-governed entry point. Inside the current backoff
// interval it returns false without calling any driver.
func (m *Manager) Reconnect(ctx context.Context, now time.Time) bool {
	if m.attempted && now.Sub(m.lastAttempt) < m.interval {
		return false
	}
	m.attempted = true
	m.lastAttempt = now
	m.attempts++

	if !m.link.IsUp() {
		if err := m.link.Activate(ctx, now); err != nil {
			m.grow(err)
			return false
		}
	}
	if err := m.Connect(ctx, now); err != nil {
		m.grow(err)
		return false
	}
	return true
}

// grow applies the backoff law after a failed attempt: the first failure
// retries after the minimum, every further consecutive failure doubles the
// interval up to the maximum.
func (m *Manager) grow(err error) {
	m.failures++
	m.interval = m.backoff.ForAttempt(float64(m.failures - 1))
	m.log.WithError(err).WithFields(logrus.Fields{
		"attempt":  m.attempts,
		"retry_in": m.interval.String(),
	}).Warn("session reconnect failed")
}

func (m *Manager) reset() {
	m.failures = 0
	m.attempts = 0
	m.interval = m.cfg.BackoffMin
}

// Publish sends payload on topic. Any failure is treated as proof the
// session is gone: the session is marked Disconnected and the transport
// released.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.state != Connected {
		return &Error{Kind: NotConnected}
	}
	if !m.IsConnected() {
		return &Error{Kind: TransportDropped, Err: errNotAlive}
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	err := m.tr.Publish(pctx, topic, payload)
	cancel()
	if err != nil {
		m.drop(err)
		return &Error{Kind: TransportDropped, Err: err}
	}
	return nil
}

// IsConnected re-syncs the cached state from the link and the transport's
// own liveness signal.
func (m *Manager) IsConnected() bool {
	if m.state != Connected {
		return false
	}
	if !m.link.IsUp() {
		m.drop(errLinkLost)
		return false
	}
	if !m.tr.IsAlive() {
		m.drop(errNotAlive)
		return false
	}
	return true
}

// Disconnect closes the session gracefully.
func (m *Manager) Disconnect() {
	if m.state == Connected {
		m.log.Info("session disconnecting")
	}
	m.release()
}

func (m *Manager) drop(reason error) {
	m.log.WithError(reason).Warn("session dropped")
	m.release()
}

func (m *Manager) release() {
	m.tr.Disconnect()
	m.state = Disconnected
}

// State returns the cached session state.
func (m *Manager) State() State { return m.state }

// Interval returns the current backoff interval.
func (m *Manager) Interval() time.Duration { return m.interval }

// Snapshot returns a copy of the state for reporting.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		State:       m.state,
		Interval:    m.interval,
		LastAttempt: m.lastAttempt,
		Attempts:    m.attempts,
		Failures:    m.failures,
	}
}
