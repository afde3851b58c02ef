// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package modem

import (
	"context"
	"net"
	"time"

	"github.com/relabs-tech/asset_tracker/internal/link"
)

// Direct is the link driver for hosts that already have IP connectivity
// (Ethernet, Wi-Fi, a modem managed by the OS). Registration and context
// activation always succeed; Dial uses the host network stack.
type Direct struct {
	dialer net.Dialer
}

var _ link.Driver = (*Direct)(nil)

// NewDirect returns a Direct driver with the given TCP keep-alive period.
func NewDirect(keepAlive time.Duration) *Direct {
	return &Direct{dialer: net.Dialer{KeepAlive: keepAlive}}
}

func (d *Direct) Reset(context.Context) error { return nil }

func (d *Direct) WaitForNetwork(context.Context, time.Duration) error { return nil }

func (d *Direct) ActivateDataContext(context.Context, string, string, string) error { return nil }

func (d *Direct) IsAttached(context.Context) (bool, error) { return true, nil }

func (d *Direct) Deactivate(context.Context) error { return nil }

// SignalQuality is not detectable on a wired host.
func (d *Direct) SignalQuality(context.Context) (int, error) {
	return link.SignalUnknown, nil
}

func (d *Direct) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return d.dialer.DialContext(ctx, "tcp", addr)
}
