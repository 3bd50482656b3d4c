// Package session composes the content index, the Neovim client, and the
// browser controller behind the command surface the HTTP and CLI layers call.
// There are no ambient singletons: one Orchestrator is built in main and
// passed by reference.
package session

import (
	"context"
	"strings"
	"sync"

	"strudelbridge/internal/browser"
	"strudelbridge/internal/config"
	"strudelbridge/internal/files"
	"strudelbridge/internal/logging"
	"strudelbridge/internal/nvim"
)

// Peer is the slice of the Neovim client the orchestrator drives.
type Peer interface {
	Connect(ctx context.Context, opts nvim.DiscoveryOptions) error
	Connected() bool
	Address() string
	Pid() int
	Close()
	ScanBuffers(ctx context.Context) ([]files.Entry, error)
}

// Remote is the slice of the browser controller the orchestrator drives.
type Remote interface {
	Initialize(ctx context.Context) bool
	Initialized() bool
	Ready() bool
	SendCode(ctx context.Context, code string) bool
	StopPlayback(ctx context.Context) bool
	Status() browser.Status
	Cleanup()
}

// Snapshot is the pure-read status view.
type Snapshot struct {
	PeerConnected      bool   `json:"neovimConnected"`
	PeerAddress        string `json:"neovimAddress,omitempty"`
	PeerPid            int    `json:"neovimPid,omitempty"`
	BrowserInitialized bool   `json:"browserInitialized"`
	BrowserReady       bool   `json:"browserReady"`
	FileCount          int    `json:"fileCount"`
}

// Orchestrator mediates all concurrent callers into the three subsystems.
type Orchestrator struct {
	cfg     *config.Config
	store   *files.Store
	scanner *files.Scanner
	watcher *files.Watcher
	peer    Peer
	remote  Remote

	// refreshMu serializes every operation that rewrites the index
	// (connect, refresh) so two scans can never interleave their entries.
	refreshMu sync.Mutex
}

// New wires an orchestrator from its parts. watcher may be nil.
func New(cfg *config.Config, store *files.Store, scanner *files.Scanner,
	watcher *files.Watcher, peer Peer, remote Remote) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		scanner: scanner,
		watcher: watcher,
		peer:    peer,
		remote:  remote,
	}
}

// Store exposes the content index to the HTTP layer.
func (o *Orchestrator) Store() *files.Store { return o.store }

// Remote exposes the browser controller status to the HTTP layer.
func (o *Orchestrator) Remote() Remote { return o.remote }

// ConnectPeer runs discovery+attach and, on success, mirrors the peer's
// buffers into the index. Total failure leaves prior state untouched. A
// connect that succeeds but whose scan fails falls back to a filesystem scan
// so the index is never left empty.
func (o *Orchestrator) ConnectPeer(ctx context.Context) (bool, string) {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	if err := o.peer.Connect(ctx, nvim.DiscoveryOptions{}); err != nil {
		logging.Get(logging.CategorySession).Warn("connect: %v", err)
		return false, "no reachable Neovim instance; start one with: nvim --listen " + nvim.WellKnownSocket
	}

	entries, err := o.peer.ScanBuffers(ctx)
	if err != nil {
		logging.Get(logging.CategorySession).Warn("buffer scan failed, falling back to filesystem: %v", err)
		o.filesystemScanLocked(ctx)
		return true, "connected to " + o.peer.Address() + " (buffer scan failed; indexed filesystem instead)"
	}
	o.store.ReplaceAll(entries)
	return true, "connected to " + o.peer.Address()
}

// DisconnectPeer tears the channel down. Never reconnects silently.
func (o *Orchestrator) DisconnectPeer() {
	o.peer.Close()
}

// RefreshContent re-mirrors the index from whichever authority is available:
// peer buffers when connected, the filesystem otherwise. Overlapping calls
// serialize; the index always reflects exactly one whole scan.
func (o *Orchestrator) RefreshContent(ctx context.Context) {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	if o.peer.Connected() {
		entries, err := o.peer.ScanBuffers(ctx)
		if err == nil {
			o.store.ReplaceAll(entries)
			return
		}
		logging.Get(logging.CategorySession).Warn("refresh: buffer scan failed: %v", err)
	}
	o.filesystemScanLocked(ctx)
}

func (o *Orchestrator) filesystemScanLocked(ctx context.Context) {
	entries, err := o.scanner.Scan(ctx)
	if err != nil {
		logging.Get(logging.CategorySession).Error("filesystem scan failed: %v", err)
		return
	}
	o.store.ReplaceAll(entries)
}

// Deliver sends code to the REPL, lazily initializing the remote session.
// Empty or whitespace-only code is rejected before any automation call.
func (o *Orchestrator) Deliver(ctx context.Context, code string) (bool, string) {
	if strings.TrimSpace(code) == "" {
		return false, "no code to send"
	}
	if !o.remote.Ready() {
		if !o.remote.Initialize(ctx) {
			return false, "browser session failed to initialize"
		}
	}
	if !o.remote.SendCode(ctx, code) {
		return false, "REPL did not accept the code"
	}
	return true, "code sent"
}

// InitBrowser brings the remote session up without delivering anything.
func (o *Orchestrator) InitBrowser(ctx context.Context) (bool, string) {
	if o.remote.Ready() {
		return true, "browser session already running"
	}
	if !o.remote.Initialize(ctx) {
		return false, "browser session failed to initialize"
	}
	return true, "browser session ready"
}

// Stop silences playback. A controller that was never initialized is already
// silent, so that counts as success.
func (o *Orchestrator) Stop(ctx context.Context) (bool, string) {
	if !o.remote.Initialized() {
		return true, "nothing to stop"
	}
	if !o.remote.StopPlayback(ctx) {
		return false, "stop command failed"
	}
	return true, "stopped"
}

// Status is a pure read over all three subsystems.
func (o *Orchestrator) Status() Snapshot {
	return Snapshot{
		PeerConnected:      o.peer.Connected(),
		PeerAddress:        o.peer.Address(),
		PeerPid:            o.peer.Pid(),
		BrowserInitialized: o.remote.Initialized(),
		BrowserReady:       o.remote.Ready(),
		FileCount:          o.store.Count(),
	}
}

// Shutdown releases everything the orchestrator owns.
func (o *Orchestrator) Shutdown() {
	if o.watcher != nil {
		o.watcher.Stop()
	}
	o.peer.Close()
	o.remote.Cleanup()
}
