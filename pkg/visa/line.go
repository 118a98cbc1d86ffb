package visa

import (
	"bytes"
	"context"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// pollInterval bounds a single blocking read, so cancellation is noticed promptly.
	pollInterval = 50 * time.Millisecond
	// flushQuietWindow is how long the line must stay silent for Flush to return.
	flushQuietWindow = 100 * time.Millisecond
	// flushMaxDuration caps Flush on a line that never goes quiet.
	flushMaxDuration = 2 * time.Second
)

// stream is a byte stream whose reads can be bounded in time.
type stream interface {
	io.Writer
	io.Closer
	// readSome reads whatever is available, waiting at most d.
	// It returns 0, nil when nothing arrived in time.
	readSome(p []byte, d time.Duration) (int, error)
}

// lineResource frames messages on a stream with termination strings.
type lineResource struct {
	s         stream
	readTerm  []byte
	writeTerm string
	buf       []byte
	closed    bool
}

func newLineResource(s stream, readTerm, writeTerm string) *lineResource {
	return &lineResource{
		s:         s,
		readTerm:  []byte(readTerm),
		writeTerm: writeTerm,
	}
}

func (r *lineResource) Write(ctx context.Context, msg string) error {
	if r.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"msg": msg,
	}).Trace("writing to resource")

	if _, err := io.WriteString(r.s, msg+r.writeTerm); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %q", msg)
	}

	return nil
}

func (r *lineResource) Read(ctx context.Context, timeout time.Duration) (string, error) {
	if r.closed {
		return "", ErrClosed
	}

	deadline := time.Now().Add(timeout)
	tmp := make([]byte, 256)

	for {
		if msg, ok := r.next(); ok {
			logrus.WithFields(logrus.Fields{
				"msg": msg,
			}).Trace("read from resource")
			return msg, nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}

		n, err := r.s.readSome(tmp, remaining)
		r.buf = append(r.buf, tmp[:n]...)
		if err != nil {
			if pkgerrors.Is(err, io.EOF) {
				return "", pkgerrors.Wrap(ErrClosed, "remote end closed the connection")
			}
			return "", pkgerrors.Wrap(err, "failed to read")
		}
	}
}

// next pops one terminated message off the buffer.
func (r *lineResource) next() (string, bool) {
	i := bytes.Index(r.buf, r.readTerm)
	if i < 0 {
		return "", false
	}
	msg := string(r.buf[:i])
	r.buf = r.buf[i+len(r.readTerm):]
	return msg, true
}

// Flush drops the buffer and drains the line until it has been quiet for
// flushQuietWindow, so a late reply to an abandoned query is not mistaken
// for the answer to the next one.
func (r *lineResource) Flush() error {
	if r.closed {
		return ErrClosed
	}

	dropped := len(r.buf)
	r.buf = r.buf[:0]

	tmp := make([]byte, 256)
	start := time.Now()
	quietSince := time.Now()
	for time.Since(quietSince) < flushQuietWindow && time.Since(start) < flushMaxDuration {
		n, err := r.s.readSome(tmp, pollInterval)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to drain input")
		}
		if n > 0 {
			dropped += n
			quietSince = time.Now()
		}
	}

	if dropped > 0 {
		logrus.Debugf("flushed %d stale bytes", dropped)
	}

	return nil
}

func (r *lineResource) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.s.Close()
}
