// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all tracker configuration values.
type Config struct {
	DeviceID string

	// MQTT
	MQTTBroker         string
	MQTTClientID       string
	MQTTUser           string
	MQTTPass           string
	MQTTQoS            byte
	MQTTKeepAlive      time.Duration
	MQTTConnectTimeout time.Duration
	MQTTPublishTimeout time.Duration

	// Topics
	TopicGPS    string
	TopicStatus string

	// GPS
	GPSSource     string // "serial" or "demo"
	GPSSerialPort string
	GPSBaudRate   int
	GPSMaxAge     time.Duration
	GPSMinChars   uint64
	GPSReadSlice  time.Duration
	DemoLatitude  float64
	DemoLongitude float64

	// Modem
	ModemType           string // "sim800" or "direct"
	ModemSerialPort     string
	ModemBaudRate       int
	ModemResetPin       string // GPIO name, empty for a soft reset
	ModemCommandTimeout time.Duration
	APN                 string
	GPRSUser            string
	GPRSPass            string
	GSMTimeout          time.Duration
	LinkRetryInterval   time.Duration

	// Timing
	ReconnectMin       time.Duration
	ReconnectMax       time.Duration
	TickInterval       time.Duration
	LinkVerifyInterval time.Duration
	StatusInterval     time.Duration

	// Logging
	LogLevel      string
	LogFormat     string
	LogOutput     string
	LogMaxAgeDays int
}

// Keys lists every recognised configuration key.
var Keys = []string{
	"DEVICE_ID",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USER", "MQTT_PASS", "MQTT_QOS",
	"MQTT_KEEPALIVE_MS", "MQTT_CONNECT_TIMEOUT_MS", "MQTT_PUBLISH_TIMEOUT_MS",
	"TOPIC_GPS", "TOPIC_STATUS",
	"GPS_SOURCE", "GPS_SERIAL_PORT", "GPS_BAUD_RATE", "GPS_MAX_AGE_MS",
	"GPS_MIN_CHARS", "GPS_READ_SLICE_MS", "DEMO_LAT", "DEMO_LON",
	"MODEM_TYPE", "MODEM_SERIAL_PORT", "MODEM_BAUD_RATE", "MODEM_RESET_PIN",
	"MODEM_COMMAND_TIMEOUT_MS", "APN", "GPRS_USER", "GPRS_PASS",
	"GSM_TIMEOUT_MS", "LINK_RETRY_INTERVAL_MS",
	"RECONNECT_MIN_MS", "RECONNECT_MAX_MS", "TICK_INTERVAL_MS",
	"LINK_VERIFY_INTERVAL_MS", "STATUS_INTERVAL_MS",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT", "LOG_MAX_AGE_DAYS",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DeviceID:           "ESP32_GPS_Tracker",
		MQTTClientID:       "ESP32_GPS_Tracker",
		MQTTKeepAlive:      60 * time.Second,
		MQTTConnectTimeout: 15 * time.Second,
		MQTTPublishTimeout: 10 * time.Second,
		TopicGPS:           "gps/location",
		TopicStatus:        "gps/status",

		GPSSource:     "serial",
		GPSSerialPort: "/dev/ttyS0",
		GPSBaudRate:   9600,
		GPSMaxAge:     2 * time.Second,
		GPSMinChars:   10,
		GPSReadSlice:  100 * time.Millisecond,
		DemoLatitude:  48.1173,
		DemoLongitude: 11.516667,

		ModemType:           "sim800",
		ModemSerialPort:     "/dev/ttyUSB0",
		ModemBaudRate:       115200,
		ModemCommandTimeout: 5 * time.Second,
		APN:                 "internet",
		GSMTimeout:          30 * time.Second,
		LinkRetryInterval:   5 * time.Second,

		ReconnectMin:       5 * time.Second,
		ReconnectMax:       60 * time.Second,
		TickInterval:       5 * time.Second,
		LinkVerifyInterval: 30 * time.Second,
		StatusInterval:     60 * time.Second,

		LogLevel:  "info",
		LogFormat: "text",
		LogOutput: "stdout",
	}
}

// Load reads KEY=VALUE pairs from configPath over the defaults, then applies
// environment variables named like any key. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		values, err := godotenv.Read(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := cfg.setValue(k, strings.TrimSpace(values[k])); err != nil {
				return nil, fmt.Errorf("config file %s: %w", configPath, err)
			}
		}
	}

	for _, k := range Keys {
		if v, ok := os.LookupEnv(k); ok {
			if err := cfg.setValue(k, strings.TrimSpace(v)); err != nil {
				return nil, fmt.Errorf("environment: %w", err)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	case "DEVICE_ID":
		c.DeviceID = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_USER":
		c.MQTTUser = value
	case "MQTT_PASS":
		c.MQTTPass = value
	case "MQTT_QOS":
		var qos int
		qos, err = intIn(key, value, 0, 2)
		c.MQTTQoS = byte(qos)
	case "MQTT_KEEPALIVE_MS":
		c.MQTTKeepAlive, err = millis(key, value)
	case "MQTT_CONNECT_TIMEOUT_MS":
		c.MQTTConnectTimeout, err = millis(key, value)
	case "MQTT_PUBLISH_TIMEOUT_MS":
		c.MQTTPublishTimeout, err = millis(key, value)

	// Topics
	case "TOPIC_GPS":
		c.TopicGPS = value
	case "TOPIC_STATUS":
		c.TopicStatus = value

	// GPS
	case "GPS_SOURCE":
		if value != "serial" && value != "demo" {
			return fmt.Errorf("GPS_SOURCE must be serial or demo, got %q", value)
		}
		c.GPSSource = value
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = intIn(key, value, 1, 4000000)
	case "GPS_MAX_AGE_MS":
		c.GPSMaxAge, err = millis(key, value)
	case "GPS_MIN_CHARS":
		var n int
		n, err = intIn(key, value, 0, 1<<20)
		c.GPSMinChars = uint64(n)
	case "GPS_READ_SLICE_MS":
		c.GPSReadSlice, err = millis(key, value)
	case "DEMO_LAT":
		c.DemoLatitude, err = floatIn(key, value, -90, 90)
	case "DEMO_LON":
		c.DemoLongitude, err = floatIn(key, value, -180, 180)

	// Modem
	case "MODEM_TYPE":
		if value != "sim800" && value != "direct" {
			return fmt.Errorf("MODEM_TYPE must be sim800 or direct, got %q", value)
		}
		c.ModemType = value
	case "MODEM_SERIAL_PORT":
		c.ModemSerialPort = value
	case "MODEM_BAUD_RATE":
		c.ModemBaudRate, err = intIn(key, value, 1, 4000000)
	case "MODEM_RESET_PIN":
		c.ModemResetPin = value
	case "MODEM_COMMAND_TIMEOUT_MS":
		c.ModemCommandTimeout, err = millis(key, value)
	case "APN":
		c.APN = value
	case "GPRS_USER":
		c.GPRSUser = value
	case "GPRS_PASS":
		c.GPRSPass = value
	case "GSM_TIMEOUT_MS":
		c.GSMTimeout, err = millis(key, value)
	case "LINK_RETRY_INTERVAL_MS":
		c.LinkRetryInterval, err = millis(key, value)

	// Timing
	case "RECONNECT_MIN_MS":
		c.ReconnectMin, err = millis(key, value)
	case "RECONNECT_MAX_MS":
		c.ReconnectMax, err = millis(key, value)
	case "TICK_INTERVAL_MS":
		c.TickInterval, err = millis(key, value)
	case "LINK_VERIFY_INTERVAL_MS":
		c.LinkVerifyInterval, err = millis(key, value)
	case "STATUS_INTERVAL_MS":
		c.StatusInterval, err = millis(key, value)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		c.LogFormat = value
	case "LOG_OUTPUT":
		c.LogOutput = value
	case "LOG_MAX_AGE_DAYS":
		c.LogMaxAgeDays, err = intIn(key, value, 0, 3650)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// validate checks that all required fields are set and consistent.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.MQTTClientID == "" {
		return fmt.Errorf("MQTT_CLIENT_ID is required")
	}
	if c.TopicGPS == "" || c.TopicStatus == "" {
		return fmt.Errorf("TOPIC_GPS and TOPIC_STATUS are required")
	}
	if c.GPSSource == "serial" && c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required for GPS_SOURCE=serial")
	}
	if c.ModemType == "sim800" && c.ModemSerialPort == "" {
		return fmt.Errorf("MODEM_SERIAL_PORT is required for MODEM_TYPE=sim800")
	}
	if c.ReconnectMin <= 0 {
		return fmt.Errorf("RECONNECT_MIN_MS must be positive")
	}
	if c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("RECONNECT_MAX_MS (%v) must not be below RECONNECT_MIN_MS (%v)", c.ReconnectMax, c.ReconnectMin)
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"MQTT_CONNECT_TIMEOUT_MS", c.MQTTConnectTimeout},
		{"MQTT_PUBLISH_TIMEOUT_MS", c.MQTTPublishTimeout},
		{"MODEM_COMMAND_TIMEOUT_MS", c.ModemCommandTimeout},
		{"GSM_TIMEOUT_MS", c.GSMTimeout},
		{"LINK_RETRY_INTERVAL_MS", c.LinkRetryInterval},
		{"LINK_VERIFY_INTERVAL_MS", c.LinkVerifyInterval},
		{"STATUS_INTERVAL_MS", c.StatusInterval},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}
	if c.GPSMaxAge <= 0 {
		return fmt.Errorf("GPS_MAX_AGE_MS must be positive")
	}
	if c.GPSReadSlice >= c.TickInterval {
		return fmt.Errorf("GPS_READ_SLICE_MS must be shorter than TICK_INTERVAL_MS")
	}
	return nil
}

func millis(key, value string) (time.Duration, error) {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intIn(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func floatIn(key, value string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be in [%g, %g], got %g", key, lo, hi, v)
	}
	return v, nil
}
