// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresponsive is wrapped by drivers when the modem stops answering.
	ErrUnresponsive = errors.New("modem unresponsive")
	// ErrThrottled is returned by Activate inside the retry interval.
	ErrThrottled = errors.New("link: activation throttled")
	// ErrDown is returned when a handle is requested while the link is not up.
	ErrDown = errors.New("link: down")
)

// Kind classifies why an activation failed.
type Kind int

const (
	NotRegistered Kind = iota + 1
	ContextRejected
	DriverUnresponsive
)

func (k Kind) String() string {
	switch k {
	case NotRegistered:
		return "not registered"
	case ContextRejected:
		return "context rejected"
	case DriverUnresponsive:
		return "driver unresponsive"
	default:
		return "unknown"
	}
}

// Error is an activation failure. The reason is kept for reporting only;
// the manager never escalates on it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("link: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify keeps the step's kind unless the driver reported it stopped answering.
func classify(step Kind, err error) *Error {
	if errors.Is(err, ErrUnresponsive) {
		return &Error{Kind: DriverUnresponsive, Err: err}
	}
	return &Error{Kind: step, Err: err}
}
