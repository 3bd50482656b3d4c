package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3001, cfg.Port)
	assert.Contains(t, cfg.Files.Extensions, ".strdl")
	assert.Equal(t, int64(1<<20), cfg.Files.MaxFileBytes)
	assert.True(t, cfg.Files.Watch)
	assert.Equal(t, 4, cfg.Browser.NavRetries)
	assert.False(t, cfg.Browser.Headless)
}

func TestLoadWithoutConfigFile(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Workspace)
	assert.Equal(t, "http://127.0.0.1:3001/", cfg.Browser.TargetURL)
}

func TestLoadReadsYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".strudel"), 0o755))
	yamlBody := `
port: 4242
neovim:
  socket_path: /tmp/custom.sock
  attach_retries: 7
browser:
  headless: true
  nav_retries: 2
files:
  extensions: [".strdl"]
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".strudel", "config.yaml"), []byte(yamlBody), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 4242, cfg.Port)
	assert.Equal(t, "/tmp/custom.sock", cfg.Neovim.SocketPath)
	assert.Equal(t, 7, cfg.Neovim.AttachRetries)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 2, cfg.Browser.NavRetries)
	assert.Equal(t, []string{".strdl"}, cfg.Files.Extensions)
	assert.Equal(t, "http://127.0.0.1:4242/", cfg.Browser.TargetURL, "derived URL follows the configured port")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".strudel"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".strudel", "config.yaml"), []byte("port: [not an int"), 0o644))

	_, err := Load(root)
	require.Error(t, err)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".strudel"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".strudel", "config.yaml"), []byte("port: 4242\n"), 0o644))

	t.Setenv("STRUDEL_BRIDGE_PORT", "5353")
	t.Setenv("STRUDEL_BRIDGE_HEADLESS", "true")
	t.Setenv("STRUDEL_NVIM_SOCKET", "/tmp/env.sock")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 5353, cfg.Port)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "/tmp/env.sock", cfg.Neovim.SocketPath)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("STRUDEL_BRIDGE_PORT", "not-a-port")
	t.Setenv("STRUDEL_BRIDGE_HEADLESS", "sideways")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Port)
	assert.False(t, cfg.Browser.Headless)
}

func TestDurationHelpersClampNonPositive(t *testing.T) {
	var n NeovimConfig
	var b BrowserConfig

	assert.Equal(t, 500*time.Millisecond, n.ProbeTimeout())
	assert.Equal(t, 200*time.Millisecond, n.AttachBackoff())
	assert.Equal(t, 20*time.Second, b.NavTimeout())
	assert.Equal(t, 500*time.Millisecond, b.NavBackoff())
	assert.Equal(t, 15*time.Second, b.ReadyTimeout())
	assert.Equal(t, 250*time.Millisecond, b.ReadyPoll())

	b.NavTimeoutMs = 1234
	assert.Equal(t, 1234*time.Millisecond, b.NavTimeout())
}

func TestWriteDefaultRefusesClobber(t *testing.T) {
	root := t.TempDir()

	path, err := WriteDefault(root)
	require.NoError(t, err)
	assert.FileExists(t, path)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Port)

	_, err = WriteDefault(root)
	require.Error(t, err, "an existing config must never be overwritten")
}
