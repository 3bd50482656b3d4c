// Package config loads strudel-bridge configuration from .strudel/config.yaml
// with environment-variable overrides for the settings that callers most
// commonly need to flip per-invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all strudel-bridge configuration.
type Config struct {
	// HTTP listen port for the bridge server.
	Port int `yaml:"port"`

	// Workspace is the root directory for filesystem scans and relative paths.
	Workspace string `yaml:"workspace"`

	Neovim  NeovimConfig  `yaml:"neovim"`
	Browser BrowserConfig `yaml:"browser"`
	Files   FilesConfig   `yaml:"files"`
	Logging LoggingConfig `yaml:"logging"`
}

// NeovimConfig configures peer discovery and RPC attachment.
type NeovimConfig struct {
	// SocketPath, when set, is tried before any discovered candidate.
	SocketPath string `yaml:"socket_path"`

	ProbeTimeoutMs   int `yaml:"probe_timeout_ms"`
	AttachRetries    int `yaml:"attach_retries"`
	AttachBackoffMs  int `yaml:"attach_backoff_ms"`
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
}

// BrowserConfig configures the remote session controller.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`

	// TargetURL is the REPL host page. Defaults to the bridge's own server.
	TargetURL string `yaml:"target_url"`

	NavRetries     int `yaml:"nav_retries"`
	NavTimeoutMs   int `yaml:"nav_timeout_ms"`
	NavBackoffMs   int `yaml:"nav_backoff_ms"`
	ReadyTimeoutMs int `yaml:"ready_timeout_ms"`
	ReadyPollMs    int `yaml:"ready_poll_ms"`
}

// FilesConfig configures the content index side.
type FilesConfig struct {
	// Extensions scanned from the workspace. The dot is included.
	Extensions []string `yaml:"extensions"`

	// MaxFileBytes caps how large a scanned file may be.
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// Watch enables the fsnotify adapter.
	Watch bool `yaml:"watch"`
}

// LoggingConfig mirrors the logging package switches.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		Port:      3001,
		Workspace: cwd,
		Neovim: NeovimConfig{
			ProbeTimeoutMs:   500,
			AttachRetries:    3,
			AttachBackoffMs:  200,
			RequestTimeoutMs: 5000,
		},
		Browser: BrowserConfig{
			Headless:       false,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			NavRetries:     4,
			NavTimeoutMs:   20000,
			NavBackoffMs:   500,
			ReadyTimeoutMs: 15000,
			ReadyPollMs:    250,
		},
		Files: FilesConfig{
			Extensions:   []string{".strdl", ".str", ".js", ".mjs", ".txt", ".md"},
			MaxFileBytes: 1 << 20,
			Watch:        true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .strudel/config.yaml under the workspace (when present), applies
// environment overrides, and fills derived defaults. A missing config file is
// not an error.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	if workspace != "" {
		cfg.Workspace = workspace
	}

	path := filepath.Join(cfg.Workspace, ".strudel", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if cfg.Browser.TargetURL == "" {
		cfg.Browser.TargetURL = fmt.Sprintf("http://127.0.0.1:%d/", cfg.Port)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STRUDEL_BRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("STRUDEL_BRIDGE_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("STRUDEL_BRIDGE_HEADLESS"); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = headless
		}
	}
	// The socket override is also read at discovery time; setting it here
	// just promotes it into the explicit slot.
	if v := os.Getenv("STRUDEL_NVIM_SOCKET"); v != "" {
		c.Neovim.SocketPath = v
	}
}

// ProbeTimeout returns the liveness probe timeout.
func (c NeovimConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// AttachBackoff returns the unit of linear backoff between attach attempts.
func (c NeovimConfig) AttachBackoff() time.Duration {
	if c.AttachBackoffMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.AttachBackoffMs) * time.Millisecond
}

// NavTimeout returns the per-attempt navigation timeout.
func (c BrowserConfig) NavTimeout() time.Duration {
	if c.NavTimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.NavTimeoutMs) * time.Millisecond
}

// NavBackoff returns the unit of linear backoff between navigation attempts.
func (c BrowserConfig) NavBackoff() time.Duration {
	if c.NavBackoffMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.NavBackoffMs) * time.Millisecond
}

// ReadyTimeout returns the overall readiness-wait budget.
func (c BrowserConfig) ReadyTimeout() time.Duration {
	if c.ReadyTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ReadyTimeoutMs) * time.Millisecond
}

// ReadyPoll returns the interval between readiness probes.
func (c BrowserConfig) ReadyPoll() time.Duration {
	if c.ReadyPollMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.ReadyPollMs) * time.Millisecond
}

// WriteDefault writes a commented default config file, refusing to clobber an
// existing one.
func WriteDefault(workspace string) (string, error) {
	dir := filepath.Join(workspace, ".strudel")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config already exists at %s", path)
	}

	const template = `# strudel-bridge configuration
port: 3001
neovim:
  # socket_path: /tmp/strudel-nvim.sock
  probe_timeout_ms: 500
  attach_retries: 3
browser:
  headless: false
  viewport_width: 1280
  viewport_height: 720
files:
  extensions: [".strdl", ".str", ".js", ".mjs", ".txt", ".md"]
  watch: true
logging:
  debug_mode: false
  level: info
`
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
