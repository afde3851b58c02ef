// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import "fmt"

// Kind classifies session failures.
type Kind int

const (
	// LinkUnavailable: connect attempted while the data link is not up.
	LinkUnavailable Kind = iota + 1
	// HandshakeRejected: the transport refused or timed out the connect.
	HandshakeRejected
	// TransportDropped: the transport died or a publish failed.
	TransportDropped
	// NotConnected: publish attempted on a disconnected session.
	NotConnected
)

func (k Kind) String() string {
	switch k {
	case LinkUnavailable:
		return "link unavailable"
	case HandshakeRejected:
		return "handshake rejected"
	case TransportDropped:
		return "transport dropped"
	case NotConnected:
		return "not connected"
	default:
		return "unknown"
	}
}

// Error is a session failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "session: " + e.Kind.String()
	}
	return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on Kind: errors.Is(err, &Error{Kind: LinkUnavailable}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Err == nil
}
