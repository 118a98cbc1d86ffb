package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSystemd(t *testing.T) *[]string {
	t.Helper()

	var calls []string
	oldPath, oldCtl := unitPath, systemctl
	unitPath = filepath.Join(t.TempDir(), "system", unitName)
	systemctl = func(args ...string) error {
		calls = append(calls, strings.Join(args, " "))
		return nil
	}
	t.Cleanup(func() { unitPath, systemctl = oldPath, oldCtl })

	return &calls
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit("/usr/local/bin/te5025", []string{"--config", "/etc/lab.json"})
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/te5025 daemon --config /etc/lab.json\n")
	assert.NotContains(t, unit, "/path/to/te5025")
	assert.Contains(t, unit, "ExecReload=/bin/kill -HUP $MAINPID")
}

func TestInstallUninstall(t *testing.T) {
	calls := fakeSystemd(t)

	require.NoError(t, Install())

	b, err := os.ReadFile(unitPath)
	require.NoError(t, err)
	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Contains(t, string(b), exe+" daemon")
	assert.Equal(t, []string{"daemon-reload", "enable --now te5025.service"}, *calls)

	*calls = nil
	require.NoError(t, Uninstall())
	assert.NoFileExists(t, unitPath)
	assert.Equal(t, []string{"disable --now te5025.service", "daemon-reload"}, *calls)
}
