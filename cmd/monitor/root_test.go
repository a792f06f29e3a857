package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Hara602/installMonitor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
installmonitor:
  paths:
    monitored: ["/data"]
  logging:
    mode: production
    level: warn
`), 0o644))

	cfg, err := loadConfig(&rootOptions{ConfigPath: path, LogLevel: "debug", Mode: "development"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.InstallMonitor.Logging.Level)
	assert.Equal(t, "development", cfg.InstallMonitor.Logging.Mode)
	assert.Equal(t, []string{"/data"}, cfg.InstallMonitor.Paths.Monitored)
}

func TestLoadConfigRejectsBadMode(t *testing.T) {
	_, err := loadConfig(&rootOptions{Mode: "chatty"})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPrintBanner(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	im := cfg.InstallMonitor
	im.Paths.Monitored = []string{"/data", "/srv"}
	im.Paths.Ignored = []string{"/data/tmp"}
	im.Log.File = "/var/log/installmonitor/install_log.txt"

	var buf bytes.Buffer
	printBanner(&buf, im)
	out := buf.String()
	assert.Contains(t, out, "Watching: /data, /srv")
	assert.Contains(t, out, "Ignoring: /data/tmp")
	assert.Contains(t, out, "Event log: /var/log/installmonitor/install_log.txt")
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "log-level", "mode"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
