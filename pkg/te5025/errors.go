package te5025

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error returned by a Session matches one of these with
// errors.Is, or is a context error.
var (
	ErrConnection        = errors.New("connection error")
	ErrUnexpectedDevice  = errors.New("unexpected device")
	ErrRange             = errors.New("value out of range")
	ErrCommandRejected   = errors.New("command rejected by instrument")
	ErrInterlockMismatch = errors.New("output interlock mismatch")
	ErrTimeout           = errors.New("instrument did not respond in time")
	ErrParse             = errors.New("malformed instrument response")
	ErrNotConnected      = errors.New("session not connected")

	// ErrInvalidQuery is returned for a zero Query.
	ErrInvalidQuery = errors.New("invalid query, use a predefined query or NewQuery")
)

// ConnectionError wraps a transport failure.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
func (e *ConnectionError) Unwrap() error        { return e.Err }

// UnexpectedDeviceError is returned by Connect when the identity does not
// belong to the expected instrument family.
type UnexpectedDeviceError struct {
	Identity string
	Expected []string
	Err      error
}

func (e *UnexpectedDeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected device %q: %v", e.Identity, e.Err)
	}
	return fmt.Sprintf("unexpected device %q, expected model %v", e.Identity, e.Expected)
}

func (e *UnexpectedDeviceError) Is(target error) bool { return target == ErrUnexpectedDevice }
func (e *UnexpectedDeviceError) Unwrap() error        { return e.Err }

// RangeError is a caller-side validation failure. Nothing has been sent.
type RangeError struct {
	Quantity string
	Value    float64
	Unit     Unit
	// Reason explains the violated constraint.
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Quantity, Reading{Value: e.Value, Unit: e.Unit}, e.Reason)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }

func outOfRange(quantity string, v float64, unit Unit, format string, a ...any) error {
	return &RangeError{Quantity: quantity, Value: v, Unit: unit, Reason: fmt.Sprintf(format, a...)}
}

// CommandRejectedError is reported when the instrument refuses a command,
// either through its error queue or by echoing back a different value.
type CommandRejectedError struct {
	Command string
	Code    int
	Message string
}

func (e *CommandRejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("instrument rejected %q: %d, %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("instrument rejected %q: %s", e.Command, e.Message)
}

func (e *CommandRejectedError) Is(target error) bool { return target == ErrCommandRejected }

// InterlockMismatchError means the output state reported by the instrument
// differs from the one requested. The caller must re-check the output state
// before doing anything else.
type InterlockMismatchError struct {
	Requested bool
	Reported  bool
	// Reason is the instrument's error queue entry, if it had one.
	Reason string
}

func (e *InterlockMismatchError) Error() string {
	msg := fmt.Sprintf("requested output %s but instrument reports %s", onOff(e.Requested), onOff(e.Reported))
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *InterlockMismatchError) Is(target error) bool { return target == ErrInterlockMismatch }

// TimeoutError is returned when no reply arrived in the configured time.
// The session re-synchronises before its next exchange.
type TimeoutError struct {
	Command string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply to %q within %s", e.Command, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ParseError is returned when a reply does not match the expected grammar.
type ParseError struct {
	Command string
	Reply   string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse reply %q to %q: %s", e.Reply, e.Command, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

var errorCodes = []struct {
	code string
	err  error
}{
	{"range", ErrRange},
	{"parse", ErrParse},
	{"invalid-query", ErrInvalidQuery},
	{"rejected", ErrCommandRejected},
	{"interlock", ErrInterlockMismatch},
	{"timeout", ErrTimeout},
	{"not-connected", ErrNotConnected},
	{"unexpected-device", ErrUnexpectedDevice},
	{"connection", ErrConnection},
}

// ErrorCode returns a stable name for the kind of err, or "" if err is not
// one of the kinds above. It lets the kind cross process boundaries.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// ErrorForCode is the inverse of ErrorCode. It returns nil for unknown codes.
func ErrorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
