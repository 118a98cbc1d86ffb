package visa

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeResource(t *testing.T) (*lineResource, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return newLineResource(&tcpStream{Conn: client}, "\r\n", "\r\n"), server
}

func TestLineResourceReadSplitsMessages(t *testing.T) {
	r, server := newPipeResource(t)

	go func() {
		_, _ = server.Write([]byte("+1.000000E+01\r\n0,\"No"))
		_, _ = server.Write([]byte(" error\"\r\n"))
	}()

	ctx := context.Background()
	msg, err := r.Read(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "+1.000000E+01", msg)

	msg, err = r.Read(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `0,"No error"`, msg)
}

func TestLineResourceWriteAppendsTermination(t *testing.T) {
	r, server := newPipeResource(t)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := server.Read(buf)
		got <- string(buf[:n])
	}()

	require.NoError(t, r.Write(context.Background(), "OUTP OFF"))
	assert.Equal(t, "OUTP OFF\r\n", <-got)
}

func TestLineResourceReadTimeout(t *testing.T) {
	r, _ := newPipeResource(t)

	timeout := 200 * time.Millisecond
	start := time.Now()
	_, err := r.Read(context.Background(), timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+150*time.Millisecond)
}

func TestLineResourceReadCancelled(t *testing.T) {
	r, _ := newPipeResource(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(60*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Read(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLineResourceFlushDropsLateReply(t *testing.T) {
	r, server := newPipeResource(t)

	go func() {
		_, _ = server.Write([]byte("stale\r\n"))
	}()

	require.NoError(t, r.Flush())

	go func() {
		_, _ = server.Write([]byte("fresh\r\n"))
	}()
	msg, err := r.Read(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fresh", msg)
}

func TestLineResourceClosed(t *testing.T) {
	r, _ := newPipeResource(t)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Read(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Write(context.Background(), "*IDN?"), ErrClosed)
}
