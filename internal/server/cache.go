package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"specline/internal/graph"
)

// SnapshotCache holds the last graph snapshot until the specs directory
// changes. Cross-repo specs are not watched; MaxAge bounds how stale their
// resolution can get. Zero MaxAge never expires; a negative one disables
// caching.
type SnapshotCache struct {
	Build  func() (*graph.Snapshot, error)
	MaxAge time.Duration
	Logger *slog.Logger
	Now    func() time.Time

	mu      sync.Mutex
	snap    *graph.Snapshot
	builtAt time.Time
}

func (c *SnapshotCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *SnapshotCache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Get returns the cached snapshot, rebuilding it when invalidated or expired.
func (c *SnapshotCache) Get() (*graph.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil && c.MaxAge >= 0 && (c.MaxAge == 0 || c.now().Sub(c.builtAt) < c.MaxAge) {
		return c.snap, nil
	}
	snap, err := c.Build()
	if err != nil {
		return nil, err
	}
	c.snap, c.builtAt = snap, c.now()
	return snap, nil
}

func (c *SnapshotCache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// Watch invalidates the cache on any change under dirs until ctx is done.
// Missing dirs are skipped; directories created later are watched too.
func (c *SnapshotCache) Watch(ctx context.Context, dirs ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	for _, dir := range dirs {
		if err := addTree(w, dir); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			c.Invalidate()
			c.logger().Debug("specs changed", "path", evt.Name, "op", evt.Op.String())
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := addTree(w, evt.Name); err != nil {
						c.logger().Warn("watch new directory failed", "path", evt.Name, "err", err)
					}
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.Invalidate()
			c.logger().Warn("specs watcher error", "err", err)
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
