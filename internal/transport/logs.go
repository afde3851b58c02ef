// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// clientLog adapts a logrus entry to paho's Logger at a fixed level.
type clientLog struct {
	entry *logrus.Entry
	level logrus.Level
}

func (c clientLog) Println(v ...interface{})               { c.entry.Logln(c.level, v...) }
func (c clientLog) Printf(format string, v ...interface{}) { c.entry.Logf(c.level, format, v...) }

// RouteClientLogs sends paho's internal error and warning output to entry.
// paho's loggers are package globals, so this affects every client.
func RouteClientLogs(entry *logrus.Entry) {
	mqtt.CRITICAL = clientLog{entry, logrus.ErrorLevel}
	mqtt.ERROR = clientLog{entry, logrus.ErrorLevel}
	mqtt.WARN = clientLog{entry, logrus.WarnLevel}
	if entry.Logger.IsLevelEnabled(logrus.TraceLevel) {
		mqtt.DEBUG = clientLog{entry, logrus.TraceLevel}
	}
}
