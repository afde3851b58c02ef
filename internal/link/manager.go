// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SignalUnknown is the modem's "not known or not detectable" signal quality.
const SignalUnknown = 99

// Driver is the radio link driver: modem reset, registration, data context
// and the byte stream carried over it.
type Driver interface {
	Reset(ctx context.Context) error
	WaitForNetwork(ctx context.Context, timeout time.Duration) error
	ActivateDataContext(ctx context.Context, apn, user, pass string) error
	IsAttached(ctx context.Context) (bool, error)
	// SignalQuality returns 0..31, or SignalUnknown.
	SignalQuality(ctx context.Context) (int, error)
	// Dial opens a byte stream to addr (host:port) over the data context.
	Dial(ctx context.Context, addr string) (net.Conn, error)
	Deactivate(ctx context.Context) error
}

// State is the data link state.
type State int

const (
	Down State = iota
	Activating
	Up
)

func (s State) String() string {
	switch s {
	case Activating:
		return "activating"
	case Up:
		return "up"
	default:
		return "down"
	}
}

// Config holds the link manager's timing and access point settings.
type Config struct {
	APN      string
	User     string
	Password string

	// RegistrationTimeout bounds the network registration wait.
	RegistrationTimeout time.Duration
	// CommandTimeout bounds every other driver call.
	CommandTimeout time.Duration
	// RetryInterval is the minimum spacing between activation attempts.
	RetryInterval time.Duration
}

// Snapshot is a read-only copy of the manager's state for health reporting.
type Snapshot struct {
	State               State
	LastAttempt         time.Time
	LastVerified        time.Time
	ConsecutiveFailures int
	LastError           error
}

// Manager owns the lifecycle of the wide-area data link. It is not safe for
// concurrent use; the tracker loop is its only caller.
type Manager struct {
	drv Driver
	cfg Config
	log logrus.FieldLogger

	throttle *rate.Limiter

	state        State
	lastAttempt  time.Time
	lastVerified time.Time
	failures     int
	lastErr      *Error
}

// NewManager returns a manager in the Down state.
func NewManager(drv Driver, cfg Config, log logrus.FieldLogger) *Manager {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	return &Manager{
		drv:      drv,
		cfg:      cfg,
		log:      log,
		throttle: rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
	}
}

// Activate brings the data link up: registration wait, then data context
// activation. Inside the retry interval it returns the current outcome
// without touching the driver.
func (m *Manager) Activate(ctx context.Context, now time.Time) error {
	if m.state == Up {
		return nil
	}
	if !m.throttle.AllowN(now, 1) {
		if m.lastErr != nil {
			return fmt.Errorf("%w: %w", ErrThrottled, m.lastErr)
		}
		return ErrThrottled
	}

	m.lastAttempt = now
	m.state = Activating
	m.log.Info("waiting for network")

	regCtx, cancel := context.WithTimeout(ctx, m.cfg.RegistrationTimeout+m.cfg.CommandTimeout)
	err := m.drv.WaitForNetwork(regCtx, m.cfg.RegistrationTimeout)
	cancel()
	if err != nil {
		return m.fail(classify(NotRegistered, err))
	}

	m.log.WithField("apn", m.cfg.APN).Info("network registered, activating data context")

	actCtx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	err = m.drv.ActivateDataContext(actCtx, m.cfg.APN, m.cfg.User, m.cfg.Password)
	cancel()
	if err != nil {
		return m.fail(classify(ContextRejected, err))
	}

	m.state = Up
	m.lastVerified = now
	m.failures = 0
	m.lastErr = nil
	m.log.Info("data link up")
	return nil
}

func (m *Manager) fail(err *Error) error {
	m.state = Down
	m.failures++
	m.lastErr = err
	m.log.WithError(err).WithField("consecutive_failures", m.failures).Warn("link activation failed")
	return err
}

// Verify asks the driver whether the data context is still attached and
// drops the link to Down if it is not. It is not throttled.
func (m *Manager) Verify(ctx context.Context, now time.Time) bool {
	vctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	attached, err := m.drv.IsAttached(vctx)
	cancel()
	if err != nil {
		m.log.WithError(err).Debug("attach status query failed")
		attached = false
	}

	if attached {
		if m.state == Up {
			m.lastVerified = now
		}
	} else if m.state == Up {
		m.state = Down
		m.log.Warn("data link lost")
	}
	return m.state == Up
}

// Deactivate tears the data context down. The link is Down afterwards
// whatever the driver reports.
func (m *Manager) Deactivate(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()
	if err := m.drv.Deactivate(dctx); err != nil {
		m.log.WithError(err).Debug("data context teardown failed")
	}
	if m.state != Down {
		m.log.Info("data link down")
	}
	m.state = Down
}

// Reset restarts the modem. Only called explicitly (start-up); a failed
// activation never triggers it.
func (m *Manager) Reset(ctx context.Context) error {
	m.state = Down
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RegistrationTimeout+m.cfg.CommandTimeout)
	defer cancel()
	if err := m.drv.Reset(rctx); err != nil {
		return fmt.Errorf("link: reset: %w", err)
	}
	return nil
}

// SignalQuality returns the modem's signal quality, SignalUnknown on error.
func (m *Manager) SignalQuality(ctx context.Context) int {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()
	q, err := m.drv.SignalQuality(sctx)
	if err != nil {
		return SignalUnknown
	}
	return q
}

// Dial opens the transport byte stream. Only allowed while Up.
func (m *Manager) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if m.state != Up {
		return nil, ErrDown
	}
	return m.drv.Dial(ctx, addr)
}

// IsUp reports the cached link state.
func (m *Manager) IsUp() bool { return m.state == Up }

// State returns the cached link state.
func (m *Manager) State() State { return m.state }

// Snapshot returns a copy of the state for reporting.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		State:               m.state,
		LastAttempt:         m.lastAttempt,
		LastVerified:        m.lastVerified,
		ConsecutiveFailures: m.failures,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr
	}
	return s
}
