package visa

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const prologixEscape = 0x1b

// gpibResource talks to a GPIB instrument through a Prologix-compatible
// GPIB-ETHERNET gateway. Lines starting with "++" configure the gateway,
// everything else is forwarded to the addressed instrument.
type gpibResource struct {
	gw        *lineResource
	writeTerm string
}

func openGPIB(ctx context.Context, addr Address, opts Options) (Resource, error) {
	if opts.GPIBGateway == "" {
		return nil, pkgerrors.Wrapf(ErrNoGateway, "cannot open %s", addr)
	}

	host, port, err := splitGateway(opts.GPIBGateway)
	if err != nil {
		return nil, err
	}

	conn, err := dialTCP(ctx, host, port, opts.DialTimeout)
	if err != nil {
		return nil, err
	}

	// The gateway itself is line oriented on "\n". Instrument replies keep
	// the instrument's own termination.
	r := &gpibResource{
		gw:        newLineResource(conn, opts.ReadTermination, "\n"),
		writeTerm: opts.WriteTermination,
	}

	for _, cmd := range prologixSetup(addr) {
		if err := r.gw.Write(ctx, cmd); err != nil {
			_ = r.gw.Close()
			return nil, pkgerrors.Wrap(err, "failed to configure GPIB gateway")
		}
	}

	logrus.WithFields(logrus.Fields{
		"gateway": opts.GPIBGateway,
		"address": addr.String(),
	}).Debug("GPIB gateway configured")

	return r, nil
}

func splitGateway(gw string) (string, int, error) {
	if !strings.Contains(gw, ":") {
		return gw, DefaultGatewayPort, nil
	}
	host, p, err := net.SplitHostPort(gw)
	if err != nil {
		return "", 0, pkgerrors.Wrapf(err, "bad gateway address %q", gw)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, pkgerrors.Wrapf(err, "bad gateway port %q", p)
	}
	return host, port, nil
}

// prologixSetup puts the gateway in controller mode, turns off automatic
// read-after-write, asserts EOI on the last byte and stops the gateway from
// appending its own termination, then selects the instrument.
func prologixSetup(addr Address) []string {
	target := fmt.Sprintf("++addr %d", addr.Primary)
	if addr.HasSecondary {
		target = fmt.Sprintf("++addr %d %d", addr.Primary, addr.Secondary)
	}
	return []string{
		"++mode 1",
		"++auto 0",
		"++eoi 1",
		"++eos 3",
		target,
	}
}

// prologixEscapeData escapes bytes the gateway would otherwise interpret.
func prologixEscapeData(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\r', '\n', '+', prologixEscape:
			b.WriteByte(prologixEscape)
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (r *gpibResource) Write(ctx context.Context, msg string) error {
	return r.gw.Write(ctx, prologixEscapeData(msg+r.writeTerm))
}

func (r *gpibResource) Read(ctx context.Context, timeout time.Duration) (string, error) {
	if err := r.gw.Write(ctx, "++read eoi"); err != nil {
		return "", err
	}
	return r.gw.Read(ctx, timeout)
}

func (r *gpibResource) Flush() error {
	return r.gw.Flush()
}

func (r *gpibResource) Close() error {
	return r.gw.Close()
}
