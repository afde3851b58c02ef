// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/asset_tracker/internal/config"
)

// broker is a minimal MQTT endpoint on a loopback port that accepts every
// CONNECT and forwards CONNECT and PUBLISH packets.
type broker struct {
	ln       net.Listener
	connects chan *packets.ConnectPacket
	published chan *packets.PublishPacket
}

func startBroker(t *testing.T) *broker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &broker{
		ln:       ln,
		connects: make(chan *packets.ConnectPacket, 4),
		published: make(chan *packets.PublishPacket, 256),
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.serve(conn)
		}
	}()
	return b
}

func (b *broker) serve(conn net.Conn) {
	defer conn.Close()
	for {
		cp, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		switch p := cp.(type) {
		case *packets.ConnectPacket:
			b.connects <- p
			ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
			ack.ReturnCode = packets.Accepted
			if err := ack.Write(conn); err != nil {
				return
			}
		case *packets.PublishPacket:
			select {
			case b.published <- p:
			default:
			}
		case *packets.PingreqPacket:
			resp := packets.NewControlPacket(packets.Pingresp)
			if err := resp.Write(conn); err != nil {
				return
			}
		case *packets.DisconnectPacket:
			return
		}
	}
}

// await returns the first publish on topic whose status field matches, or
// any publish on topic when status is empty.
func (b *broker) await(t *testing.T, topic, status string) map[string]any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-b.published:
			if p.TopicName != topic {
				continue
			}
			var m map[string]any
			if err := json.Unmarshal(p.Payload, &m); err != nil {
				t.Fatalf("payload %q: %v", p.Payload, err)
			}
			if status == "" || m["status"] == status {
				return m
			}
		case <-deadline:
			t.Fatalf("no publish on %s (status %q)", topic, status)
			return nil
		}
	}
}

func TestRunTracker_DemoSourceOverDirectLink(t *testing.T) {
	b := startBroker(t)

	cfg := config.Default()
	cfg.MQTTBroker = "tcp://" + b.ln.Addr().String()
	cfg.GPSSource = "demo"
	cfg.ModemType = "direct"
	cfg.TickInterval = 50 * time.Millisecond
	cfg.GPSReadSlice = 10 * time.Millisecond

	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunTracker(ctx, cfg, log) }()

	select {
	case c := <-b.connects:
		if c.ClientIdentifier != "ESP32_GPS_Tracker" || c.WillTopic != "gps/status" {
			t.Fatalf("unexpected connect %+v", c)
		}
		if !strings.Contains(string(c.WillMessage), `"status":"offline"`) || !strings.Contains(string(c.WillMessage), `"boot_id"`) {
			t.Fatalf("unexpected will %s", c.WillMessage)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("tracker never connected")
	}

	b.await(t, "gps/status", "connected")
	fix := b.await(t, "gps/location", "")
	if fix["valid"] != true {
		t.Fatalf("unexpected record %v", fix)
	}
	lat, _ := fix["latitude"].(float64)
	if lat < 48.1 || lat > 48.13 {
		t.Fatalf("expected a position near the demo centre, got %v", fix)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunTracker: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("RunTracker did not stop")
	}
	b.await(t, "gps/status", "disconnecting")
}

func TestRunTracker_RejectsUnknownSource(t *testing.T) {
	cfg := config.Default()
	cfg.MQTTBroker = "tcp://127.0.0.1:1"
	cfg.GPSSource = "usb"

	log := logrus.New()
	log.SetOutput(io.Discard)
	if err := RunTracker(context.Background(), cfg, log); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}
