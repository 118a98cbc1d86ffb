package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/te5025/pkg/utils/ptr"
)

func TestFileDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "GPIB0::25::INSTR", f.Address())
	assert.Equal(t, 10*time.Second, f.Timeout())
	assert.Equal(t, 50*time.Millisecond, f.CommandDelay())
	assert.Equal(t, "\r\n", f.ReadTermination())
	assert.Equal(t, "\r\n", f.WriteTermination())
	assert.Equal(t, 9600, f.BaudRate())
	assert.Equal(t, []string{"5025"}, f.ExpectedModels())
	assert.False(t, f.Simulate())
	assert.Empty(t, f.Schedule())
	assert.False(t, f.AllowNonRootAccess())
}

func TestFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0644))

	f, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, "GPIB0::25::INSTR", f.Address())
}

func TestFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "address": "ASRL/dev/ttyUSB0::INSTR",
  "timeoutMillis": 2500,
  "commandDelayMillis": 0,
  "baudRate": 19200,
  "expectedModels": ["5025", "5045"],
  "schedule": "0 0 9 * * MON"
}`), 0644))

	f, err := NewFile(path)
	require.NoError(t, err)

	assert.Equal(t, "ASRL/dev/ttyUSB0::INSTR", f.Address())
	assert.Equal(t, 2500*time.Millisecond, f.Timeout())
	assert.Equal(t, time.Duration(0), f.CommandDelay())
	assert.Equal(t, 19200, f.BaudRate())
	assert.Equal(t, []string{"5025", "5045"}, f.ExpectedModels())
	assert.Equal(t, "0 0 9 * * MON", f.Schedule())
	assert.Equal(t, "\r\n", f.ReadTermination())
}

func TestFileLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"address": 5}`), 0644))

	_, err := NewFile(path)
	assert.Error(t, err)
}

func TestFileSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f := NewFileFromConfig(nil, path)

	f.SetAddress("TCPIP0::10.0.0.5::5025::SOCKET")
	f.SetTimeout(3 * time.Second)
	f.SetSimulate(true)
	f.SetSchedule("@daily")
	f.SetScheduleSequence("/etc/te5025/daily.yaml")
	f.SetAllowNonRootAccess(true)
	require.NoError(t, f.Save())

	g, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, f.LogrusFields(), g.LogrusFields())
	assert.Equal(t, 3*time.Second, g.Timeout())
	assert.True(t, g.Simulate())
	assert.Equal(t, "/etc/te5025/daily.yaml", g.ScheduleSequence())

	raw, err := NewRawFileConfigFromConfig(g)
	require.NoError(t, err)
	assert.Equal(t, "@daily", *raw.Schedule)
}

func TestFileSetterPanics(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	assert.Panics(t, func() { f.SetTimeout(0) })
	assert.Panics(t, func() { f.SetCommandDelay(-time.Second) })
}

func TestSessionOptions(t *testing.T) {
	f := NewFileFromConfig(&RawFileConfig{
		TimeoutMillis:      ptr.To(2500),
		CommandDelayMillis: ptr.To(0),
		GPIBGateway:        ptr.To("10.0.0.5:1234"),
		BaudRate:           ptr.To(19200),
		ReadTermination:    ptr.To("\n"),
	}, "")

	opts := SessionOptions(f)
	assert.Equal(t, 2500*time.Millisecond, opts.Timeout)
	assert.Zero(t, opts.CommandDelay)
	assert.Equal(t, []string{"5025"}, opts.ExpectedModels)
	assert.Equal(t, "10.0.0.5:1234", opts.Transport.GPIBGateway)
	assert.Equal(t, 19200, opts.Transport.BaudRate)
	assert.Equal(t, "\n", opts.Transport.ReadTermination)
	assert.Equal(t, "\r\n", opts.Transport.WriteTermination)
}
