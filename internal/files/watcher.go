package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"strudelbridge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher feeds filesystem change notifications into the content index
// through the same upsert path a scan uses. Removed files stay in the index;
// entries only leave on a full replacement scan.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	store       *Store
	scanner     *Scanner
	root        string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for tests and debugging.
type WatcherStats struct {
	FilesCreated  int
	FilesModified int
	FilesRemoved  int
	Upserts       int
	Errors        int
	LastEventPath string
	LastEventType string
	LastEventTime time.Time
}

// NewWatcher creates a watcher over the scanner's root. The scanner supplies
// the extension filter so watcher-sourced and scan-sourced entries agree.
func NewWatcher(store *Store, scanner *Scanner, root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		store:       store,
		scanner:     scanner,
		root:        root,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the workspace tree. Non-blocking; the event loop runs
// in its own goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Register the root and every non-hidden subdirectory. fsnotify does not
	// recurse on its own.
	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.HasPrefix(name, ".") && path != w.root && !allowedHiddenDirs[name] {
			return filepath.SkipDir
		}
		if addErr := w.watcher.Add(path); addErr != nil {
			logging.Get(logging.CategoryFiles).Warn("watcher: cannot watch %s: %v", path, addErr)
		}
		return nil
	})
	if err != nil {
		logging.Get(logging.CategoryFiles).Warn("watcher: walk failed: %v", err)
	}
	logging.Files("watcher: watching %s", w.root)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryFiles).Error("watcher: close failed: %v", err)
	}
	logging.Files("watcher: stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	flush := time.NewTicker(100 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryFiles).Error("watcher: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-flush.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.scanner.Matches(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		eventType = "remove"
	default:
		return
	}

	logging.FilesDebug("watcher: %s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "remove":
		w.stats.FilesRemoved++
		// Deliberately not debounced: the index keeps the last known content
		// until the next full scan replaces it.
		w.mu.Unlock()
		return
	}
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.refreshEntry(path)
	}
}

// refreshEntry re-reads a settled path and upserts it.
func (w *Watcher) refreshEntry(path string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.FilesDebug("watcher: %s gone before refresh", path)
			return
		}
		logging.Get(logging.CategoryFiles).Error("watcher: stat %s: %v", path, err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Get(logging.CategoryFiles).Error("watcher: read %s: %v", path, err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	w.store.Upsert(Entry{
		Path:         rel,
		Name:         filepath.Base(path),
		Content:      string(data),
		LastModified: info.ModTime(),
	})

	w.mu.Lock()
	w.stats.Upserts++
	w.mu.Unlock()
	logging.FilesDebug("watcher: refreshed %s", rel)
}

// Stats returns a copy of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsRunning reports whether the event loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
