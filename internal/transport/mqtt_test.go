// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/asset_tracker/internal/session"
)

// fakeBroker answers CONNECT with returnCode over an in-memory pipe and
// forwards every packet it reads.
type fakeBroker struct {
	returnCode byte
	packets    chan packets.ControlPacket
	dialedAddr chan string
	server     net.Conn
}

func newFakeBroker(returnCode byte) *fakeBroker {
	return &fakeBroker{
		returnCode: returnCode,
		packets:    make(chan packets.ControlPacket, 16),
		dialedAddr: make(chan string, 1),
	}
}

func (b *fakeBroker) dial(_ context.Context, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	b.server = server
	b.dialedAddr <- addr
	go b.serve(server)
	return client, nil
}

func (b *fakeBroker) serve(conn net.Conn) {
	defer conn.Close()
	for {
		cp, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		b.packets <- cp
		switch cp.(type) {
		case *packets.ConnectPacket:
			ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
			ack.ReturnCode = b.returnCode
			if err := ack.Write(conn); err != nil {
				return
			}
		case *packets.DisconnectPacket:
			return
		}
	}
}

func (b *fakeBroker) next(t *testing.T) packets.ControlPacket {
	t.Helper()
	select {
	case cp := <-b.packets:
		return cp
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a packet")
		return nil
	}
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() Config {
	return Config{
		Broker:         "tcp://broker.example:1883",
		KeepAlive:      time.Minute,
		ConnectTimeout: 2 * time.Second,
		WillTopic:      "gps/status",
		WillPayload:    `{"status":"offline"}`,
	}
}

func TestMQTT_ConnectPublishDisconnect(t *testing.T) {
	broker := newFakeBroker(packets.Accepted)
	tr := NewMQTT(testConfig(), broker.dial, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	creds := &session.Credentials{Username: "tracker", Password: "secret"}
	if err := tr.Connect(ctx, "ESP32_GPS_Tracker", creds); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if addr := <-broker.dialedAddr; addr != "broker.example:1883" {
		t.Fatalf("expected dial to broker host, got %q", addr)
	}

	connect, ok := broker.next(t).(*packets.ConnectPacket)
	if !ok {
		t.Fatalf("expected CONNECT first")
	}
	if connect.ClientIdentifier != "ESP32_GPS_Tracker" {
		t.Fatalf("unexpected client id %q", connect.ClientIdentifier)
	}
	if connect.Username != "tracker" || string(connect.Password) != "secret" {
		t.Fatalf("expected credentials in CONNECT")
	}
	if !connect.WillFlag || connect.WillTopic != "gps/status" || string(connect.WillMessage) != `{"status":"offline"}` {
		t.Fatalf("expected last will on status topic, got %+v", connect)
	}
	if !tr.IsAlive() {
		t.Fatalf("expected transport alive after CONNACK")
	}

	if err := tr.Publish(ctx, "gps/location", []byte(`{"latitude":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	pub, ok := broker.next(t).(*packets.PublishPacket)
	if !ok {
		t.Fatalf("expected PUBLISH")
	}
	if pub.TopicName != "gps/location" || string(pub.Payload) != `{"latitude":1}` {
		t.Fatalf("unexpected publish %s %s", pub.TopicName, pub.Payload)
	}

	tr.Disconnect()
	if tr.IsAlive() {
		t.Fatalf("expected transport dead after disconnect")
	}
	if _, err := broker.server.Write([]byte{0}); err == nil {
		t.Fatalf("expected byte stream closed after disconnect")
	}
}

func TestMQTT_ConnectRejected(t *testing.T) {
	broker := newFakeBroker(packets.ErrRefusedNotAuthorised)
	tr := NewMQTT(testConfig(), broker.dial, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx, "ESP32_GPS_Tracker", nil); err == nil {
		t.Fatalf("expected connect to fail")
	}
	if tr.IsAlive() {
		t.Fatalf("rejected transport must not report alive")
	}
	tr.Disconnect()
}

func TestMQTT_DialFailure(t *testing.T) {
	dialErr := errors.New("link: down")
	tr := NewMQTT(testConfig(), func(context.Context, string) (net.Conn, error) {
		return nil, dialErr
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx, "id", nil); err == nil {
		t.Fatalf("expected connect to fail when the link cannot dial")
	}
}

func TestMQTT_PublishWithoutConnect(t *testing.T) {
	tr := NewMQTT(testConfig(), nil, testLogger())
	if err := tr.Publish(context.Background(), "gps/location", nil); err == nil {
		t.Fatalf("expected error")
	}
	if tr.IsAlive() {
		t.Fatalf("expected not alive")
	}
	tr.Disconnect()
}
