package visa

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrologixEscapeData(t *testing.T) {
	assert.Equal(t, "VOLT:AMPL 10\x1b\r\x1b\n", prologixEscapeData("VOLT:AMPL 10\r\n"))
	assert.Equal(t, "POW \x1b+1,2", prologixEscapeData("POW +1,2"))
	assert.Equal(t, "\x1b\x1b", prologixEscapeData("\x1b"))
}

func TestOpenGPIBRequiresGateway(t *testing.T) {
	_, err := Open(context.Background(), "GPIB0::25::INSTR", Options{})
	assert.ErrorIs(t, err, ErrNoGateway)
}

func TestOpenGPIBThroughGateway(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	lines := make(chan string, 16)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			lines <- line
			if line == "++read eoi" {
				_, _ = conn.Write([]byte("TIME ELECTRONICS,5025C,1234,2.10\r\n"))
			}
		}
	}()

	ctx := context.Background()
	r, err := Open(ctx, "GPIB0::25::INSTR", Options{GPIBGateway: l.Addr().String()})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Write(ctx, "*IDN?"))
	reply, err := r.Read(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "TIME ELECTRONICS,5025C,1234,2.10", reply)

	var got []string
	for len(got) < 7 {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-time.After(time.Second):
			t.Fatalf("gateway saw only %q", got)
		}
	}
	assert.Equal(t, []string{
		"++mode 1",
		"++auto 0",
		"++eoi 1",
		"++eos 3",
		"++addr 25",
		"*IDN?\x1b\r\x1b",
		"++read eoi",
	}, got)
}
