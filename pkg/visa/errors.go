package visa

import "errors"

var (
	// ErrTimeout is returned when no complete message arrives before the read timeout.
	ErrTimeout = errors.New("timeout expired before operation completed")

	// ErrInvalidAddress is returned when a resource string cannot be parsed.
	ErrInvalidAddress = errors.New("invalid resource address")

	// ErrClosed is returned when using a resource that has been closed.
	ErrClosed = errors.New("resource closed")

	// ErrNoGateway is returned when opening a GPIB resource without a gateway.
	ErrNoGateway = errors.New("no GPIB gateway configured")
)
