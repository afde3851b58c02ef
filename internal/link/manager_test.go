// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeDriver struct {
	registerErr error
	activateErr error
	attached    bool
	attachErr   error
	deactErr    error

	registerCalls   int
	activateCalls   int
	deactivateCalls int
	resetCalls      int
	dialCalls       int

	gotAPN, gotUser, gotPass string
}

func (f *fakeDriver) Reset(context.Context) error { f.resetCalls++; return nil }

func (f *fakeDriver) WaitForNetwork(context.Context, time.Duration) error {
	f.registerCalls++
	return f.registerErr
}

func (f *fakeDriver) ActivateDataContext(_ context.Context, apn, user, pass string) error {
	f.activateCalls++
	f.gotAPN, f.gotUser, f.gotPass = apn, user, pass
	return f.activateErr
}

func (f *fakeDriver) IsAttached(context.Context) (bool, error) { return f.attached, f.attachErr }

func (f *fakeDriver) SignalQuality(context.Context) (int, error) { return 17, nil }

func (f *fakeDriver) Dial(context.Context, string) (net.Conn, error) {
	f.dialCalls++
	c, _ := net.Pipe()
	return c, nil
}

func (f *fakeDriver) Deactivate(context.Context) error {
	f.deactivateCalls++
	return f.deactErr
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() Config {
	return Config{
		APN:                 "internet.tn",
		RegistrationTimeout: 30 * time.Second,
		CommandTimeout:      time.Second,
		RetryInterval:       5 * time.Second,
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestActivate_Success(t *testing.T) {
	drv := &fakeDriver{attached: true}
	m := NewManager(drv, testConfig(), testLogger())

	if err := m.Activate(context.Background(), t0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.State() != Up {
		t.Fatalf("expected Up, got %v", m.State())
	}
	if drv.gotAPN != "internet.tn" {
		t.Fatalf("expected APN passed to driver, got %q", drv.gotAPN)
	}
	if s := m.Snapshot(); !s.LastAttempt.Equal(t0) || s.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestActivate_RegistrationFailure(t *testing.T) {
	drv := &fakeDriver{registerErr: errors.New("CREG: 2")}
	m := NewManager(drv, testConfig(), testLogger())

	err := m.Activate(context.Background(), t0)
	var le *Error
	if !errors.As(err, &le) || le.Kind != NotRegistered {
		t.Fatalf("expected NotRegistered, got %v", err)
	}
	if m.State() != Down {
		t.Fatalf("expected Down, got %v", m.State())
	}
	if drv.activateCalls != 0 {
		t.Fatalf("context activation must not run without registration")
	}
	if m.Snapshot().ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 failure")
	}
}

func TestActivate_ContextRejected(t *testing.T) {
	drv := &fakeDriver{activateErr: errors.New("CIICR ERROR")}
	m := NewManager(drv, testConfig(), testLogger())

	err := m.Activate(context.Background(), t0)
	var le *Error
	if !errors.As(err, &le) || le.Kind != ContextRejected {
		t.Fatalf("expected ContextRejected, got %v", err)
	}
}

func TestActivate_UnresponsiveDriver(t *testing.T) {
	drv := &fakeDriver{registerErr: fmt.Errorf("AT timeout: %w", ErrUnresponsive)}
	m := NewManager(drv, testConfig(), testLogger())

	err := m.Activate(context.Background(), t0)
	var le *Error
	if !errors.As(err, &le) || le.Kind != DriverUnresponsive {
		t.Fatalf("expected DriverUnresponsive, got %v", err)
	}
	if drv.resetCalls != 0 {
		t.Fatalf("activation failure must not reset the modem")
	}
}

func TestActivate_ThrottledWithinRetryInterval(t *testing.T) {
	drv := &fakeDriver{registerErr: errors.New("no network")}
	m := NewManager(drv, testConfig(), testLogger())

	first := m.Activate(context.Background(), t0)
	second := m.Activate(context.Background(), t0.Add(4*time.Second))

	if drv.registerCalls != 1 {
		t.Fatalf("expected one driver call inside the retry interval, got %d", drv.registerCalls)
	}
	if !errors.Is(second, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", second)
	}
	var le *Error
	if !errors.As(second, &le) || le != first {
		t.Fatalf("expected throttled call to report the last failure, got %v", second)
	}
	if m.Snapshot().ConsecutiveFailures != 1 {
		t.Fatalf("throttled call must not count as a failure")
	}

	drv.registerErr = nil
	if err := m.Activate(context.Background(), t0.Add(6*time.Second)); err != nil {
		t.Fatalf("expected retry after the interval to succeed, got %v", err)
	}
	if drv.registerCalls != 2 {
		t.Fatalf("expected a second driver call, got %d", drv.registerCalls)
	}
}

func TestActivate_ConsecutiveFailuresCount(t *testing.T) {
	drv := &fakeDriver{registerErr: errors.New("no network")}
	m := NewManager(drv, testConfig(), testLogger())

	for i := 0; i < 3; i++ {
		_ = m.Activate(context.Background(), t0.Add(time.Duration(i)*10*time.Second))
	}
	if got := m.Snapshot().ConsecutiveFailures; got != 3 {
		t.Fatalf("expected 3 failures, got %d", got)
	}

	drv.registerErr = nil
	_ = m.Activate(context.Background(), t0.Add(time.Minute))
	if got := m.Snapshot().ConsecutiveFailures; got != 0 {
		t.Fatalf("expected failures reset on success, got %d", got)
	}
}

func TestVerify_DetachDropsLink(t *testing.T) {
	drv := &fakeDriver{attached: true}
	m := NewManager(drv, testConfig(), testLogger())
	_ = m.Activate(context.Background(), t0)

	if !m.Verify(context.Background(), t0.Add(time.Second)) {
		t.Fatalf("expected link to verify up")
	}

	drv.attached = false
	if m.Verify(context.Background(), t0.Add(2*time.Second)) {
		t.Fatalf("expected verify to report down")
	}
	if m.State() != Down {
		t.Fatalf("expected Down after detach, got %v", m.State())
	}
}

func TestVerify_NotThrottled(t *testing.T) {
	drv := &fakeDriver{attached: true}
	m := NewManager(drv, testConfig(), testLogger())
	_ = m.Activate(context.Background(), t0)

	drv.attached = false
	m.Verify(context.Background(), t0)

	drv.attached = true
	// verification must not consume the activation token
	if err := m.Activate(context.Background(), t0.Add(6*time.Second)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestVerify_QueryErrorTreatedAsDetached(t *testing.T) {
	drv := &fakeDriver{attached: true}
	m := NewManager(drv, testConfig(), testLogger())
	_ = m.Activate(context.Background(), t0)

	drv.attachErr = ErrUnresponsive
	if m.Verify(context.Background(), t0) {
		t.Fatalf("expected verify failure to drop the link")
	}
}

func TestDeactivate_AlwaysDown(t *testing.T) {
	drv := &fakeDriver{attached: true, deactErr: errors.New("CIPSHUT ERROR")}
	m := NewManager(drv, testConfig(), testLogger())
	_ = m.Activate(context.Background(), t0)

	m.Deactivate(context.Background())
	if m.State() != Down {
		t.Fatalf("expected Down after failed teardown, got %v", m.State())
	}
	if drv.deactivateCalls != 1 {
		t.Fatalf("expected driver teardown call")
	}
}

func TestDial_RequiresUp(t *testing.T) {
	drv := &fakeDriver{}
	m := NewManager(drv, testConfig(), testLogger())

	if _, err := m.Dial(context.Background(), "broker:1883"); !errors.Is(err, ErrDown) {
		t.Fatalf("expected ErrDown, got %v", err)
	}
	if drv.dialCalls != 0 {
		t.Fatalf("driver must not dial while down")
	}

	_ = m.Activate(context.Background(), t0)
	c, err := m.Dial(context.Background(), "broker:1883")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	c.Close()
}

func TestSignalQuality(t *testing.T) {
	m := NewManager(&fakeDriver{}, testConfig(), testLogger())
	if q := m.SignalQuality(context.Background()); q != 17 {
		t.Fatalf("expected 17, got %d", q)
	}
}
