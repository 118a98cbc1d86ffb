package visa

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default transport parameters, matching what the calibrator ships with.
const (
	DefaultReadTermination  = "\r\n"
	DefaultWriteTermination = "\r\n"
	DefaultBaudRate         = 9600
	DefaultDialTimeout      = 5 * time.Second
	DefaultGatewayPort      = 1234
)

// Resource is an open instrument connection.
//
// A Resource is not safe for concurrent use. Callers must serialize
// write+read exchanges themselves.
type Resource interface {
	// Write sends one message, appending the write termination.
	Write(ctx context.Context, msg string) error
	// Read waits at most timeout for one complete message and returns it
	// without the read termination. It returns ErrTimeout if nothing
	// complete arrived in time, or ctx.Err() if ctx is done first.
	Read(ctx context.Context, timeout time.Duration) (string, error)
	// Flush discards buffered and in-flight input.
	Flush() error
	// Close releases the resource.
	Close() error
}

// Options configures how resources are opened.
type Options struct {
	ReadTermination  string
	WriteTermination string
	// GPIBGateway is the host[:port] of a Prologix-compatible GPIB-ETHERNET
	// gateway. Required for GPIB addresses.
	GPIBGateway string
	BaudRate    int
	DialTimeout time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ReadTermination:  DefaultReadTermination,
		WriteTermination: DefaultWriteTermination,
		BaudRate:         DefaultBaudRate,
		DialTimeout:      DefaultDialTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadTermination == "" {
		o.ReadTermination = d.ReadTermination
	}
	if o.WriteTermination == "" {
		o.WriteTermination = d.WriteTermination
	}
	if o.BaudRate == 0 {
		o.BaudRate = d.BaudRate
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = d.DialTimeout
	}
	return o
}

// Open parses address and opens the matching resource.
func Open(ctx context.Context, address string, opts Options) (Resource, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	logrus.WithFields(logrus.Fields{
		"address":   addr.String(),
		"interface": addr.Interface,
	}).Debug("opening resource")

	switch addr.Interface {
	case InterfaceTCPIP:
		conn, err := dialTCP(ctx, addr.Host, addr.Port, opts.DialTimeout)
		if err != nil {
			return nil, err
		}
		return newLineResource(conn, opts.ReadTermination, opts.WriteTermination), nil
	case InterfaceSerial:
		port, err := openSerial(addr.Device, opts.BaudRate)
		if err != nil {
			return nil, err
		}
		return newLineResource(port, opts.ReadTermination, opts.WriteTermination), nil
	case InterfaceGPIB:
		return openGPIB(ctx, addr, opts)
	}

	return nil, pkgerrors.Wrapf(ErrInvalidAddress, "%q: unsupported interface", address)
}
