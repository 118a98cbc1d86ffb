package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/te5025/pkg/config"
	"github.com/charlie0129/te5025/pkg/daemon"
	"github.com/charlie0129/te5025/pkg/utils/ptr"
)

// serveDaemon starts a simulated daemon and returns its socket and config
// paths.
func serveDaemon(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	confPath := filepath.Join(dir, "config.json")
	conf := config.NewFileFromConfig(&config.RawFileConfig{
		Simulate:           ptr.To(true),
		TimeoutMillis:      ptr.To(200),
		CommandDelayMillis: ptr.To(0),
	}, confPath)
	require.NoError(t, conf.Save())

	d := daemon.New(conf)
	require.NoError(t, d.Connect(context.Background()))

	socket := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(d.Router())
	srv.Listener = l
	srv.Start()

	t.Cleanup(func() {
		srv.Close()
		_ = d.Disconnect(context.Background())
	})

	return socket, confPath
}

func execute(t *testing.T, socket, confPath string, args ...string) (string, error) {
	t.Helper()

	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--daemon-socket", socket, "--config", confPath, "--log-level", "error"}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	socket, confPath := serveDaemon(t)

	out, err := execute(t, socket, confPath, "identify")
	require.NoError(t, err)
	assert.Contains(t, out, "5025C")

	_, err = execute(t, socket, confPath, "set", "dcv", "5V", "--range", "20V", "--enable")
	require.NoError(t, err)

	out, err = execute(t, socket, confPath, "query", "voltage")
	require.NoError(t, err)
	assert.Contains(t, out, "VOLT:AMPL?")
	assert.Contains(t, out, "5 V")

	out, err = execute(t, socket, confPath, "output", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ON")

	_, err = execute(t, socket, confPath, "output", "disable")
	require.NoError(t, err)

	out, err = execute(t, socket, confPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Calibrator:")
	assert.Contains(t, out, "No scheduled sequence.")

	out, err = execute(t, socket, confPath, "errors")
	require.NoError(t, err)
	assert.Contains(t, out, "No errors.")

	_, err = execute(t, socket, confPath, "set", "dcv", "5 V!")
	assert.Error(t, err)

	_, err = execute(t, socket, confPath, "query", "nonsense")
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	socket, confPath := serveDaemon(t)
	seqPath := "../../docs/sequences/dc-voltage.yaml"

	out, err := execute(t, socket, confPath, "run", seqPath)
	require.NoError(t, err)
	assert.Contains(t, out, "dc-voltage")
	assert.Contains(t, out, "PASS")

	out, err = execute(t, socket, confPath, "run", "--last")
	require.NoError(t, err)
	assert.Contains(t, out, "dc-voltage")

	// The config enables the simulator, so --direct needs no hardware.
	out, err = execute(t, socket, confPath, "run", "--direct", seqPath)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
}

func TestScheduleCommand(t *testing.T) {
	socket, confPath := serveDaemon(t)

	out, err := execute(t, socket, confPath, "schedule", "@daily", "--sequence", "../../docs/sequences/dc-voltage.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Sequence scheduled.")
	assert.Contains(t, out, "Next 3 run(s)")

	out, err = execute(t, socket, confPath, "schedule", "skip")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")

	out, err = execute(t, socket, confPath, "schedule", "disable")
	require.NoError(t, err)
	assert.Contains(t, out, "Schedule disabled.")

	out, err = execute(t, socket, confPath, "schedule")
	require.NoError(t, err)
	assert.Contains(t, out, "Schedule is not set.")
}
