// Package obd holds the ELM327 protocol primitives: command encoding, reply frame
// parsing, per-PID value decoders and trouble-code decoding. Everything in here is
// free of I/O; the dispatcher and connection packages drive it.
package obd

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout      = errors.New("command timed out")
	ErrDisconnected = errors.New("disconnected")
	ErrBusy         = errors.New("a command is already awaiting a reply")
	ErrClosed       = errors.New("dispatcher closed")
	ErrNotConnected = errors.New("not connected")
	ErrTransport    = errors.New("transport failure")
	ErrAdapter      = errors.New("adapter rejected request")
)

// DecodeError reports a reply that could not be turned into a value. Raw carries the
// offending text so it can be shown to the user.
type DecodeError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s (raw %q)", e.Reason, e.Raw)
}

func decodeErrorf(raw string, format string, args ...any) error {
	return &DecodeError{Raw: raw, Reason: fmt.Sprintf(format, args...)}
}
