// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/asset_tracker/internal/config"
	"github.com/relabs-tech/asset_tracker/internal/gps"
	"github.com/relabs-tech/asset_tracker/internal/link"
	"github.com/relabs-tech/asset_tracker/internal/logging"
	"github.com/relabs-tech/asset_tracker/internal/modem"
	"github.com/relabs-tech/asset_tracker/internal/session"
	"github.com/relabs-tech/asset_tracker/internal/telemetry"
	"github.com/relabs-tech/asset_tracker/internal/tracker"
	"github.com/relabs-tech/asset_tracker/internal/transport"
)

// demoPeriod is the sentence rate of the built-in NMEA generator.
const demoPeriod = time.Second

// RunTracker opens the position source and the modem, wires link, session
// and transport into the tracker loop and runs it until ctx is cancelled.
func RunTracker(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	transport.RouteClientLogs(logging.Component(log, "paho"))

	// ---- 1) Position source ----
	src, err := openPositionSource(cfg)
	if err != nil {
		return err
	}
	intake := gps.NewIntake(src, logging.Component(log, "gps"))
	defer intake.Close()

	decoder := gps.NewDecoder(time.Now)
	gate := &gps.Gate{Source: decoder, MaxAge: cfg.GPSMaxAge, MinBytes: cfg.GPSMinChars}

	// ---- 2) Radio link ----
	drv, closeDriver, err := openDriver(cfg, logging.Component(log, "modem"))
	if err != nil {
		return err
	}
	defer closeDriver()

	links := link.NewManager(drv, link.Config{
		APN:                 cfg.APN,
		User:                cfg.GPRSUser,
		Password:            cfg.GPRSPass,
		RegistrationTimeout: cfg.GSMTimeout,
		CommandTimeout:      cfg.ModemCommandTimeout,
		RetryInterval:       cfg.LinkRetryInterval,
	}, logging.Component(log, "link"))

	if err := links.Reset(ctx); err != nil {
		log.WithError(err).Warn("modem reset failed, activation will retry")
	}

	// ---- 3) Session over MQTT ----
	loopCfg := tracker.Config{
		DeviceID:       cfg.DeviceID,
		TopicGPS:       cfg.TopicGPS,
		TopicStatus:    cfg.TopicStatus,
		TickInterval:   cfg.TickInterval,
		ReadSlice:      cfg.GPSReadSlice,
		VerifyInterval: cfg.LinkVerifyInterval,
		StatusInterval: cfg.StatusInterval,
	}
	// the boot id must exist before the will is registered
	loopCfg.BootID = uuid.NewString()

	mqttTransport := transport.NewMQTT(transport.Config{
		Broker:         cfg.MQTTBroker,
		QoS:            cfg.MQTTQoS,
		KeepAlive:      cfg.MQTTKeepAlive,
		ConnectTimeout: cfg.MQTTConnectTimeout,
		WillTopic:      cfg.TopicStatus,
		WillPayload:    telemetry.OfflineWill(cfg.DeviceID, loopCfg.BootID),
	}, links.Dial, logging.Component(log, "mqtt"))

	var creds *session.Credentials
	if cfg.MQTTUser != "" {
		creds = &session.Credentials{Username: cfg.MQTTUser, Password: cfg.MQTTPass}
	}
	sess := session.NewManager(links, mqttTransport, session.Config{
		ClientID:       cfg.MQTTClientID,
		Credentials:    creds,
		BackoffMin:     cfg.ReconnectMin,
		BackoffMax:     cfg.ReconnectMax,
		ConnectTimeout: cfg.MQTTConnectTimeout,
		PublishTimeout: cfg.MQTTPublishTimeout,
	}, logging.Component(log, "session"))

	// ---- 4) Loop ----
	loop := tracker.New(loopCfg, links, sess, intake, gate, logging.Component(log, "tracker"))
	log.WithFields(logrus.Fields{
		"device":  cfg.DeviceID,
		"boot_id": loop.BootID(),
		"broker":  cfg.MQTTBroker,
		"gps":     cfg.GPSSource,
		"modem":   cfg.ModemType,
	}).Info("tracker configured")

	return loop.Run(ctx)
}

func openPositionSource(cfg *config.Config) (io.ReadCloser, error) {
	switch cfg.GPSSource {
	case "demo":
		return gps.NewSimulator(cfg.DemoLatitude, cfg.DemoLongitude, demoPeriod), nil
	case "serial":
		return gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
	default:
		return nil, fmt.Errorf("unknown GPS_SOURCE %q", cfg.GPSSource)
	}
}

func openDriver(cfg *config.Config, log logrus.FieldLogger) (link.Driver, func(), error) {
	switch cfg.ModemType {
	case "direct":
		return modem.NewDirect(cfg.MQTTKeepAlive), func() {}, nil
	case "sim800":
		port, err := modem.OpenSerial(cfg.ModemSerialPort, cfg.ModemBaudRate)
		if err != nil {
			return nil, nil, err
		}
		sc := modem.SIM800Config{CommandTimeout: cfg.ModemCommandTimeout}
		if cfg.ModemResetPin != "" {
			pin, err := modem.OpenResetPin(cfg.ModemResetPin)
			if err != nil {
				port.Close()
				return nil, nil, err
			}
			sc.ResetPin = pin
		}
		m := modem.NewSIM800(port, sc, log)
		return m, func() {
			if err := m.Close(); err != nil {
				log.WithError(err).Warn("close modem port")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown MODEM_TYPE %q", cfg.ModemType)
	}
}
