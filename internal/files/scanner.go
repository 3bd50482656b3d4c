package files

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"strudelbridge/internal/logging"

	"golang.org/x/sync/errgroup"
)

// Hidden configuration directories that are still worth indexing. Everything
// else starting with a dot is skipped, .strudel and .git always.
var allowedHiddenDirs = map[string]bool{
	".github": true,
	".vscode": true,
	".config": true,
}

// Scanner enumerates matching files under a workspace root. It never mutates
// the store itself; callers swap its result in so scans stay atomic.
type Scanner struct {
	root     string
	exts     map[string]bool
	maxBytes int64
}

// NewScanner creates a scanner for the given root and extension set.
func NewScanner(root string, extensions []string, maxBytes int64) *Scanner {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = true
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Scanner{root: root, exts: exts, maxBytes: maxBytes}
}

// Matches reports whether a path passes the extension filter.
func (s *Scanner) Matches(path string) bool {
	return s.exts[strings.ToLower(filepath.Ext(path))]
}

// Scan walks the workspace and reads every matching file, bounded to 16
// concurrent reads. Entries come back sorted by path so repeated scans yield
// the same insertion order.
func (s *Scanner) Scan(ctx context.Context) ([]Entry, error) {
	var paths []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && path != s.root {
				if allowedHiddenDirs[name] {
					return nil
				}
				return filepath.SkipDir
			}
			return nil
		}
		if !s.Matches(path) || info.Size() > s.maxBytes {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		entries = make([]Entry, 0, len(paths))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			info, err := os.Stat(path)
			if err != nil {
				// File vanished between walk and read; not a scan failure.
				logging.FilesDebug("scan: skipping %s: %v", path, err)
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				logging.FilesDebug("scan: skipping %s: %v", path, err)
				return nil
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				rel = path
			}
			mu.Lock()
			entries = append(entries, Entry{
				Path:         rel,
				Name:         filepath.Base(path),
				Content:      string(data),
				LastModified: info.ModTime(),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	logging.Files("scan: indexed %d files under %s", len(entries), s.root)
	return entries, nil
}
