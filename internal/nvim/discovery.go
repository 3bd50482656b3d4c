// Package nvim locates a running Neovim instance over its msgpack-RPC unix
// socket, attaches to it, and mirrors its buffers into content entries.
package nvim

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"strudelbridge/internal/logging"
)

// WellKnownSocket is the fixed address a cooperating Neovim is expected to
// listen on (`nvim --listen /tmp/strudel-nvim.sock`).
const WellKnownSocket = "/tmp/strudel-nvim.sock"

// DiscoveryOptions parameterizes candidate generation. The zero value uses
// the real process table, environment, and temp directory; tests point the
// fields elsewhere.
type DiscoveryOptions struct {
	// Explicit candidates are tried first, in order.
	Explicit []string

	WellKnown  string
	ProcRoot   string
	RuntimeDir string
	TempDir    string

	Getenv func(string) string
}

func (o DiscoveryOptions) withDefaults() DiscoveryOptions {
	if o.WellKnown == "" {
		o.WellKnown = WellKnownSocket
	}
	if o.ProcRoot == "" {
		o.ProcRoot = "/proc"
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.RuntimeDir == "" {
		o.RuntimeDir = o.Getenv("XDG_RUNTIME_DIR")
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	return o
}

// Candidates produces the ordered, de-duplicated socket candidate list:
// explicit addresses, the well-known socket, sockets derived from running
// nvim processes, the environment override, and finally a temp-directory
// scan for Neovim's default socket naming.
func Candidates(opts DiscoveryOptions) []string {
	opts = opts.withDefaults()

	var out []string
	seen := make(map[string]bool)
	add := func(addr string) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	for _, addr := range opts.Explicit {
		add(addr)
	}
	add(opts.WellKnown)
	for _, addr := range processCandidates(opts) {
		add(addr)
	}
	add(opts.Getenv("NVIM"))
	add(opts.Getenv("NVIM_LISTEN_ADDRESS"))
	for _, addr := range tempDirCandidates(opts.TempDir) {
		add(addr)
	}
	return out
}

// processCandidates derives socket paths from currently running nvim
// processes. Embedded and headless instances are excluded unless their
// command line carries an explicit --listen address (which is then used
// directly).
func processCandidates(opts DiscoveryOptions) []string {
	dirs, err := os.ReadDir(opts.ProcRoot)
	if err != nil {
		return nil
	}

	var out []string
	for _, dir := range dirs {
		pid, err := strconv.Atoi(dir.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(opts.ProcRoot, dir.Name(), "comm"))
		if err != nil || strings.TrimSpace(string(comm)) != "nvim" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(opts.ProcRoot, dir.Name(), "cmdline"))
		if err != nil {
			continue
		}
		args := strings.Split(string(raw), "\x00")

		listen := listenAddress(args)
		if listen != "" {
			out = append(out, listen)
			continue
		}
		if hasArg(args, "--embed") || hasArg(args, "--headless") {
			continue
		}
		// Neovim's default server socket lives under the runtime dir as
		// nvim.<pid>.0.
		base := opts.RuntimeDir
		if base == "" {
			base = opts.TempDir
		}
		out = append(out, filepath.Join(base, "nvim."+strconv.Itoa(pid)+".0"))
	}
	return out
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func listenAddress(args []string) string {
	for i, a := range args {
		if a == "--listen" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--listen="); ok {
			return v
		}
	}
	return ""
}

// tempDirCandidates scans the temp directory for socket files matching
// Neovim's nvim.<user>/<n>/nvim.<pid>.0 and legacy nvim*/0 conventions.
func tempDirCandidates(tempDir string) []string {
	patterns := []string{
		filepath.Join(tempDir, "nvim*", "*", "nvim.*.0"),
		filepath.Join(tempDir, "nvim*", "0"),
	}
	var out []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.Mode()&os.ModeSocket == 0 {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

// Probe performs a bounded liveness check: a dial with a deadline, nothing
// more. Cheap rejection of dead candidates saves the RPC handshake.
func Probe(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", addr, timeout)
	if err != nil {
		logging.NvimDebug("probe %s: %v", addr, err)
		return false
	}
	_ = conn.Close()
	return true
}
