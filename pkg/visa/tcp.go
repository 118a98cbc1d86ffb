package visa

import (
	"context"
	"net"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// tcpStream adapts a net.Conn to stream using read deadlines.
type tcpStream struct {
	net.Conn
}

func dialTCP(ctx context.Context, host string, port int, timeout time.Duration) (*tcpStream, error) {
	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to dial %s", addr)
	}
	return &tcpStream{Conn: conn}, nil
}

func (t *tcpStream) readSome(p []byte, d time.Duration) (int, error) {
	if err := t.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, err
	}
	n, err := t.Read(p)
	var ne net.Error
	if pkgerrors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}
	return n, err
}
