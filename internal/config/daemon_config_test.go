package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDaemonConfigDefaults(t *testing.T) {
	cfg, err := LoadDaemonConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.ListenAddr)
	assert.Equal(t, "bd", cfg.BinPath)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat)
}

func TestLoadDaemonConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bdviewd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: 0.0.0.0:9000\nbin_path: /usr/local/bin/bd\n"), 0o644))

	cfg, err := LoadDaemonConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, "/usr/local/bin/bd", cfg.BinPath)
}

func TestLoadDaemonConfigMissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadDaemonConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.ListenAddr)
}

func TestLoadDaemonConfigEnvOverrides(t *testing.T) {
	t.Setenv("BDVIEWD_DB_PATH", "/tmp/test.db")
	t.Setenv("BD_BIN", "/opt/bd")
	t.Setenv("BDVIEWD_DEBOUNCE_MS", "500")
	t.Setenv("BDVIEWD_HEARTBEAT_SECS", "15")

	cfg, err := LoadDaemonConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "/opt/bd", cfg.BinPath)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 15*time.Second, cfg.Heartbeat)
}
