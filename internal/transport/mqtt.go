// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/asset_tracker/internal/session"
)

// DialFunc opens the byte stream to the broker, normally link.Manager.Dial.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Config holds broker and protocol settings.
type Config struct {
	Broker         string // e.g. tcp://broker.hivemq.com:1883
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// WillTopic and WillPayload register a last-will message with the broker
	// on every connect. Empty WillTopic disables it.
	WillTopic   string
	WillPayload string
}

// MQTT is the telemetry transport: an MQTT 3.1.1 client whose network
// connection is opened through the data link instead of the host stack.
//
// paho's own reconnect logic is disabled; reconnection belongs to the
// session manager.
type MQTT struct {
	cfg  Config
	dial DialFunc
	log  logrus.FieldLogger

	mu     sync.Mutex
	client mqtt.Client
	conn   net.Conn
}

var _ session.Transport = (*MQTT)(nil)

// NewMQTT returns a disconnected transport.
func NewMQTT(cfg Config, dial DialFunc, log logrus.FieldLogger) *MQTT {
	return &MQTT{cfg: cfg, dial: dial, log: log}
}

// Connect dials the broker through the link and performs the MQTT handshake.
// It returns once the broker acknowledged the connection or ctx is done.
func (t *MQTT) Connect(ctx context.Context, clientID string, creds *session.Credentials) error {
	t.Disconnect()

	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(t.cfg.KeepAlive).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCustomOpenConnectionFn(func(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
			conn, err := t.dial(ctx, uri.Host)
			if err != nil {
				return nil, err
			}
			t.mu.Lock()
			t.conn = conn
			t.mu.Unlock()
			return conn, nil
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.WithError(err).Warn("broker connection lost")
		})

	if t.cfg.WillTopic != "" {
		opts.SetWill(t.cfg.WillTopic, t.cfg.WillPayload, t.cfg.QoS, false)
	}
	if creds != nil {
		opts.SetUsername(creds.Username)
		opts.SetPassword(creds.Password)
	}

	client := mqtt.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.Broker, err)
	}
	t.log.WithFields(logrus.Fields{
		"broker":    t.cfg.Broker,
		"client_id": clientID,
	}).Debug("broker accepted connection")
	return nil
}

// Publish sends payload on topic with the configured QoS, not retained.
func (t *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return mqtt.ErrNotConnected
	}
	if err := wait(ctx, client.Publish(topic, t.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// IsAlive reports paho's view of the broker connection.
func (t *MQTT) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.client.IsConnectionOpen()
}

// Disconnect ends the MQTT session and closes the dialed byte stream. Safe
// to call when never connected.
func (t *MQTT) Disconnect() {
	t.mu.Lock()
	client, conn := t.client, t.conn
	t.client, t.conn = nil, nil
	t.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(250)
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
