// Package files owns the in-memory content index: the single source the HTTP
// surface reads from and the only structure written by both the Neovim buffer
// scan and the filesystem watcher.
package files

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// VirtualPrefix namespaces entries that have no backing file on disk, keeping
// synthesized keys disjoint from workspace-relative paths.
const VirtualPrefix = "nvim-buffer/"

// Entry is one indexed piece of content, keyed by Path.
type Entry struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Content      string    `json:"content"`
	LastModified time.Time `json:"lastModified"`
	Bufnr        int       `json:"bufnr,omitempty"`
	IsVirtual    bool      `json:"isVirtual,omitempty"`
}

// Stats aggregates the index for the health and stats endpoints.
type Stats struct {
	Total        int            `json:"count"`
	OnDisk       int            `json:"onDisk"`
	Virtual      int            `json:"virtual"`
	TotalBytes   int64          `json:"totalSize"`
	AverageBytes int64          `json:"averageSize"`
	Extensions   map[string]int `json:"extensions"`
	LastModified time.Time      `json:"lastModified,omitempty"`
}

// Store is the content index. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	root    string

	// writeFile is swapped out by tests to observe (or suppress) disk writes.
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewStore creates an empty index rooted at the given workspace directory.
func NewStore(root string) *Store {
	return &Store{
		entries:   make(map[string]*Entry),
		root:      root,
		writeFile: os.WriteFile,
	}
}

// Upsert inserts or replaces an entry by path. When the entry carries no
// timestamp the current time is stamped on.
func (s *Store) Upsert(e Entry) {
	if e.LastModified.IsZero() {
		e.LastModified = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Path]; !ok {
		s.order = append(s.order, e.Path)
	}
	s.entries[e.Path] = &e
}

// Get returns the entry for a path.
func (s *Store) Get(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns a snapshot of all entries in insertion order. Mutating the
// index afterwards does not affect the returned slice.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, path := range s.order {
		if e, ok := s.entries[path]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Count returns the number of entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	s.order = nil
}

// ReplaceAll swaps the whole index for the given entries in one step, so
// readers never observe a cleared-but-unpopulated index mid-scan.
func (s *Store) ReplaceAll(entries []Entry) {
	now := time.Now()
	fresh := make(map[string]*Entry, len(entries))
	order := make([]string, 0, len(entries))
	for i := range entries {
		e := entries[i]
		if e.LastModified.IsZero() {
			e.LastModified = now
		}
		if _, ok := fresh[e.Path]; !ok {
			order = append(order, e.Path)
		}
		fresh[e.Path] = &e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = fresh
	s.order = order
}

// Persist updates an entry's content. For entries backed by a real file the
// new content is written through to disk; virtual entries are updated in
// memory only. Both paths report success to the caller. The boolean is false
// only when the path is unknown.
func (s *Store) Persist(path, content string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[path]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	e.Content = content
	e.LastModified = time.Now()
	virtual := e.IsVirtual
	s.mu.Unlock()

	if virtual {
		return true, nil
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.root, target)
	}
	if err := s.writeFile(target, []byte(content), 0o644); err != nil {
		return true, err
	}
	return true, nil
}

// Stats computes aggregate counts over the current index.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Extensions: make(map[string]int)}
	for _, e := range s.entries {
		stats.Total++
		if e.IsVirtual {
			stats.Virtual++
		} else {
			stats.OnDisk++
		}
		stats.TotalBytes += int64(len(e.Content))
		ext := strings.ToLower(filepath.Ext(e.Name))
		if ext == "" {
			ext = "(none)"
		}
		stats.Extensions[ext]++
		if e.LastModified.After(stats.LastModified) {
			stats.LastModified = e.LastModified
		}
	}
	if stats.Total > 0 {
		stats.AverageBytes = stats.TotalBytes / int64(stats.Total)
	}
	return stats
}
