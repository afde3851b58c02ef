// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/asset_tracker/internal/gps"
	"github.com/relabs-tech/asset_tracker/internal/link"
	"github.com/relabs-tech/asset_tracker/internal/session"
	"github.com/relabs-tech/asset_tracker/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Link is the part of the link manager the loop drives directly.
type Link interface {
	Verify(ctx context.Context, now time.Time) bool
	SignalQuality(ctx context.Context) int
	Deactivate(ctx context.Context)
	Snapshot() link.Snapshot
}

// Session is the part of the session manager the loop drives.
type Session interface {
	IsConnected() bool
	Reconnect(ctx context.Context, now time.Time) bool
	Publish(ctx context.Context, topic string, payload []byte) error
	Disconnect()
	Snapshot() session.Snapshot
}

// Intake hands buffered receiver bytes to the decoder.
type Intake interface {
	Drain(src gps.Source, slice time.Duration) int
	Dropped() uint64
}

// Config holds the loop cadence and identity.
type Config struct {
	DeviceID    string
	BootID      string // generated when empty
	TopicGPS    string
	TopicStatus string

	TickInterval   time.Duration
	ReadSlice      time.Duration
	VerifyInterval time.Duration
	StatusInterval time.Duration
}

// Loop is the orchestration loop. Tick is the whole control step; Run
// drives it from a ticker. All collaborators are touched only from the
// goroutine calling Tick.
type Loop struct {
	cfg    Config
	link   Link
	sess   Session
	intake Intake
	gate   *gps.Gate
	log    logrus.FieldLogger

	started    time.Time
	lastVerify time.Time
	lastStatus time.Time
	ticks      uint64
}

// New returns a loop over the given collaborators.
func New(cfg Config, l Link, s Session, in Intake, gate *gps.Gate, log logrus.FieldLogger) *Loop {
	if cfg.BootID == "" {
		cfg.BootID = uuid.NewString()
	}
	return &Loop{
		cfg:    cfg,
		link:   l,
		sess:   s,
		intake: in,
		gate:   gate,
		log:    log.WithField("boot_id", cfg.BootID),
	}
}

// BootID identifies this run in every status record.
func (l *Loop) BootID() string { return l.cfg.BootID }

// Tick runs one control step at now:
//  1. drain receiver bytes for at most ReadSlice
//  2. evaluate fix freshness
//  3. reconnect the session if needed (this drives the link)
//  4. publish a Record when the fix is fresh, a Status otherwise
//  5. verify the link on its own cadence
//  6. periodic health status and log line
func (l *Loop) Tick(ctx context.Context, now time.Time) {
	if l.started.IsZero() {
		l.started = now
		l.lastStatus = now
		l.lastVerify = now
	}
	l.ticks++

	l.intake.Drain(l.gate.Source, l.cfg.ReadSlice)
	fix, fresh := l.gate.Evaluate(now)

	if !l.sess.IsConnected() && l.sess.Reconnect(ctx, now) {
		l.announce(ctx, now, telemetry.StatusConnected)
	}

	statusSent := false
	if l.sess.IsConnected() {
		if fresh {
			l.publishRecord(ctx, fix)
		} else {
			statusSent = l.publishStatus(ctx, now, fix, fresh)
		}
	}

	if now.Sub(l.lastVerify) >= l.cfg.VerifyInterval {
		l.lastVerify = now
		if !l.link.Verify(ctx, now) {
			// drops the session if it was riding on the lost link
			l.sess.IsConnected()
		}
	}

	if now.Sub(l.lastStatus) >= l.cfg.StatusInterval {
		l.lastStatus = now
		l.logHealth(now, fix, fresh)
		if !statusSent && l.sess.IsConnected() {
			l.publishStatus(ctx, now, fix, fresh)
		}
	}
}

// Run ticks every TickInterval until ctx is cancelled, then announces the
// disconnect, closes the session and deactivates the link.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	l.log.WithFields(logrus.Fields{
		"device":   l.cfg.DeviceID,
		"interval": l.cfg.TickInterval.String(),
	}).Info("tracker loop started")

	l.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case now := <-ticker.C:
			l.Tick(ctx, now)
		}
	}
}

func (l *Loop) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	l.log.Info("tracker loop stopping")
	if l.sess.IsConnected() {
		l.announce(ctx, time.Now(), telemetry.StatusDisconnecting)
	}
	l.sess.Disconnect()
	l.link.Deactivate(ctx)
}

func (l *Loop) publishRecord(ctx context.Context, fix gps.Fix) bool {
	payload, err := telemetry.NewRecord(fix, true).Marshal()
	if err != nil {
		l.log.WithError(err).Error("encode telemetry record")
		return false
	}
	if err := l.sess.Publish(ctx, l.cfg.TopicGPS, payload); err != nil {
		l.log.WithError(err).Warn("telemetry publish failed")
		return false
	}
	l.log.WithFields(logrus.Fields{
		"lat":  fix.Latitude,
		"lon":  fix.Longitude,
		"sats": fix.Satellites,
	}).Debug("published fix")
	return true
}

func (l *Loop) publishStatus(ctx context.Context, now time.Time, fix gps.Fix, fresh bool) bool {
	payload, err := l.health(ctx, now, fix, fresh).Marshal()
	if err != nil {
		l.log.WithError(err).Error("encode status record")
		return false
	}
	if err := l.sess.Publish(ctx, l.cfg.TopicStatus, payload); err != nil {
		l.log.WithError(err).Warn("status publish failed")
		return false
	}
	return true
}

func (l *Loop) announce(ctx context.Context, now time.Time, status string) {
	payload, err := telemetry.Announcement{
		Status:    status,
		Device:    l.cfg.DeviceID,
		BootID:    l.cfg.BootID,
		Timestamp: now.UTC(),
	}.Marshal()
	if err != nil {
		l.log.WithError(err).Error("encode announcement")
		return
	}
	if err := l.sess.Publish(ctx, l.cfg.TopicStatus, payload); err != nil {
		l.log.WithError(err).WithField("status", status).Warn("announcement publish failed")
	}
}

func (l *Loop) health(ctx context.Context, now time.Time, fix gps.Fix, fresh bool) telemetry.Status {
	s := telemetry.Status{
		Status:     telemetry.StatusNoFix,
		GPSFix:     fresh,
		Satellites: fix.Satellites,
		Signal:     l.link.SignalQuality(ctx),
		Uptime:     int64(now.Sub(l.started) / time.Second),
		Timestamp:  now.UTC(),
		Device:     l.cfg.DeviceID,
		BootID:     l.cfg.BootID,
		Link:       l.link.Snapshot().State.String(),
		Session:    l.sess.Snapshot().State.String(),
		GPS:        l.gpsState(fresh),
	}
	if fresh {
		s.Status = telemetry.StatusOK
	}
	return s
}

func (l *Loop) gpsState(fresh bool) string {
	switch {
	case l.gate.Ready() != nil:
		return telemetry.GPSNoData
	case fresh:
		return telemetry.GPSFix
	case l.gate.Source.IsStructurallyValid():
		return telemetry.GPSStale
	default:
		return telemetry.GPSSearching
	}
}

func (l *Loop) logHealth(now time.Time, fix gps.Fix, fresh bool) {
	ls := l.link.Snapshot()
	ss := l.sess.Snapshot()
	fields := logrus.Fields{
		"uptime":        now.Sub(l.started).Truncate(time.Second).String(),
		"ticks":         l.ticks,
		"gps":           l.gpsState(fresh),
		"satellites":    fix.Satellites,
		"gps_bytes":     l.gate.Source.BytesProcessed(),
		"gps_dropped":   l.intake.Dropped(),
		"link":          ls.State.String(),
		"link_failures": ls.ConsecutiveFailures,
		"session":       ss.State.String(),
		"backoff":       ss.Interval.String(),
	}
	if ls.LastError != nil {
		fields["link_error"] = ls.LastError.Error()
	}
	l.log.WithFields(fields).Info("health")
}
