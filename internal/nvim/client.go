package nvim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"strudelbridge/internal/config"
	"strudelbridge/internal/files"
	"strudelbridge/internal/logging"

	govim "github.com/neovim/go-client/nvim"
)

// API is the slice of the Neovim RPC surface the client uses. *nvim.Nvim
// satisfies it; tests substitute a fake.
type API interface {
	Eval(expr string, result interface{}) error
	Buffers() ([]govim.Buffer, error)
	BufferName(buffer govim.Buffer) (string, error)
	IsBufferLoaded(buffer govim.Buffer) (bool, error)
	BufferLines(buffer govim.Buffer, start, end int, strict bool) ([][]byte, error)
	Close() error
}

// DialFunc opens an RPC channel to a candidate address.
type DialFunc func(addr string) (API, error)

func defaultDial(addr string) (API, error) {
	v, err := govim.Dial(addr)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Client owns the single peer connection. It is created disconnected and only
// transitions to connected after the full discovery+attach+handshake protocol
// succeeds. It never reconnects on its own.
type Client struct {
	mu        sync.RWMutex
	cfg       config.NeovimConfig
	workspace string
	dial      DialFunc
	probe     func(addr string, timeout time.Duration) bool

	api       API
	connected bool
	address   string
	pid       int
}

// NewClient creates a disconnected client.
func NewClient(cfg config.NeovimConfig, workspace string) *Client {
	return &Client{
		cfg:       cfg,
		workspace: workspace,
		dial:      defaultDial,
		probe:     Probe,
	}
}

// Connected reports whether an attached channel is live.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Address returns the resolved socket address, empty when disconnected.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// Pid returns the peer's process id when known, zero otherwise.
func (c *Client) Pid() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pid
}

// Connect runs discovery and attaches to the first candidate that both
// answers a dial probe and completes the echo handshake. On failure the
// client keeps its previous state.
func (c *Client) Connect(ctx context.Context, opts DiscoveryOptions) error {
	if c.cfg.SocketPath != "" {
		opts.Explicit = append([]string{c.cfg.SocketPath}, opts.Explicit...)
	}
	candidates := Candidates(opts)
	logging.Nvim("connect: %d candidate socket(s)", len(candidates))

	for _, addr := range candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !c.probe(addr, c.cfg.ProbeTimeout()) {
			continue
		}
		api, err := c.attach(addr)
		if err != nil {
			logging.Get(logging.CategoryNvim).Warn("attach %s: %v", addr, err)
			continue
		}

		var pid int
		if err := api.Eval("getpid()", &pid); err != nil {
			logging.NvimDebug("getpid on %s: %v", addr, err)
		}

		c.mu.Lock()
		if c.api != nil {
			_ = c.api.Close()
		}
		c.api = api
		c.connected = true
		c.address = addr
		c.pid = pid
		c.mu.Unlock()

		logging.Nvim("connected to %s (pid %d)", addr, pid)
		return nil
	}
	return fmt.Errorf("no reachable Neovim instance among %d candidate(s)", len(candidates))
}

// attach opens the channel and verifies it with a trivial evaluation,
// retrying with linear back-off. A reachable socket that never answers the
// handshake is treated as dead.
func (c *Client) attach(addr string) (API, error) {
	api, err := c.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	retries := c.cfg.AttachRetries
	if retries <= 0 {
		retries = 3
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		var n int
		if lastErr = api.Eval("1 + 1", &n); lastErr == nil && n == 2 {
			return api, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("echo returned %d", n)
		}
		if attempt < retries {
			time.Sleep(time.Duration(attempt) * c.cfg.AttachBackoff())
		}
	}
	_ = api.Close()
	return nil, fmt.Errorf("handshake failed after %d attempts: %w", retries, lastErr)
}

// Close tears the channel down and resets to disconnected. Safe to call when
// already disconnected.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		_ = c.api.Close()
	}
	c.api = nil
	c.connected = false
	c.address = ""
	c.pid = 0
}

// skipBuffer is the canonical skip predicate for the buffer scan: unnamed
// buffers, terminal buffers, and the placeholder name never become entries.
func skipBuffer(name string, loaded bool) bool {
	switch {
	case !loaded:
		return true
	case name == "":
		return true
	case strings.HasPrefix(name, "term://"):
		return true
	case name == "[No Name]":
		return true
	}
	return false
}

// ScanBuffers enumerates the peer's buffers and converts the survivors into
// content entries. Any RPC error mid-enumeration aborts the scan with no
// partial result; the caller decides the fallback.
func (c *Client) ScanBuffers(ctx context.Context) ([]files.Entry, error) {
	c.mu.RLock()
	api := c.api
	connected := c.connected
	c.mu.RUnlock()
	if !connected || api == nil {
		return nil, fmt.Errorf("not connected")
	}

	bufs, err := api.Buffers()
	if err != nil {
		return nil, fmt.Errorf("list buffers: %w", err)
	}

	entries := make([]files.Entry, 0, len(bufs))
	for _, buf := range bufs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		name, err := api.BufferName(buf)
		if err != nil {
			return nil, fmt.Errorf("buffer %d name: %w", int(buf), err)
		}
		loaded, err := api.IsBufferLoaded(buf)
		if err != nil {
			return nil, fmt.Errorf("buffer %d loaded: %w", int(buf), err)
		}
		if skipBuffer(name, loaded) {
			logging.NvimDebug("scan: skipping buffer %d (%q)", int(buf), name)
			continue
		}

		lines, err := api.BufferLines(buf, 0, -1, true)
		if err != nil {
			return nil, fmt.Errorf("buffer %d lines: %w", int(buf), err)
		}
		parts := make([]string, len(lines))
		for i, line := range lines {
			parts[i] = string(line)
		}

		entries = append(entries, c.toEntry(name, int(buf), strings.Join(parts, "\n")))
	}

	logging.Nvim("scan: %d of %d buffer(s) indexed", len(entries), len(bufs))
	return entries, nil
}

// toEntry maps a buffer onto an entry. Buffers backed by a real file get a
// workspace-relative path; anything else gets a synthesized key in the
// virtual namespace.
func (c *Client) toEntry(name string, bufnr int, content string) files.Entry {
	display := filepath.Base(name)

	abs := name
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(c.workspace, name)
	}
	if _, err := os.Stat(abs); err == nil {
		path := name
		if rel, relErr := filepath.Rel(c.workspace, abs); relErr == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
		return files.Entry{
			Path:    path,
			Name:    display,
			Content: content,
			Bufnr:   bufnr,
		}
	}

	return files.Entry{
		Path:      fmt.Sprintf("%s%s-%d", files.VirtualPrefix, display, bufnr),
		Name:      display,
		Content:   content,
		Bufnr:     bufnr,
		IsVirtual: true,
	}
}
