// Package watcher turns raw fsnotify events on the project's source roots
// into debounced, coalesced change batches for the import pipeline.
//
// Editors rarely write a file once: temp files, truncate-then-write and
// chmod dances produce event storms. The watcher absorbs those by holding
// every path for a quiet period and emitting one batch per burst.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/assetpipe/internal/ctxlog"
	"github.com/vk/assetpipe/internal/fsutil"
)

// Batch is one coalesced set of filesystem changes.
type Batch struct {
	// Modified holds created and written paths.
	Modified []string
	// Removed holds deleted and renamed-away paths.
	Removed []string
}

// Watcher watches the source roots recursively and emits change batches.
type Watcher struct {
	roots    []string
	ignore   []string
	debounce time.Duration

	fsw     *fsnotify.Watcher
	batches chan Batch
}

// New creates a watcher over the given roots. Directories are watched
// recursively; directories created later are picked up automatically.
func New(roots []string, ignore []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		roots:    roots,
		ignore:   ignore,
		debounce: debounce,
		fsw:      fsw,
		batches:  make(chan Batch, 16),
	}

	for _, root := range roots {
		if err := w.watchTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Batches returns the channel of coalesced change batches. It is closed
// when Run returns.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Run processes fsnotify events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Watcher started.", "roots", w.roots, "debounce", w.debounce)

	defer close(w.batches)
	defer w.fsw.Close()

	pendingModified := make(map[string]bool)
	pendingRemoved := make(map[string]bool)
	var flushTimer *time.Timer
	var flushC <-chan time.Time

	armFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(w.debounce)
			flushC = flushTimer.C
			return
		}
		if !flushTimer.Stop() {
			select {
			case <-flushTimer.C:
			default:
			}
		}
		flushTimer.Reset(w.debounce)
	}

	flush := func() {
		if len(pendingModified) == 0 && len(pendingRemoved) == 0 {
			return
		}
		batch := Batch{}
		for path := range pendingModified {
			batch.Modified = append(batch.Modified, path)
		}
		for path := range pendingRemoved {
			batch.Removed = append(batch.Removed, path)
		}
		pendingModified = make(map[string]bool)
		pendingRemoved = make(map[string]bool)
		logger.Debug("Flushing change batch.", "modified", len(batch.Modified), "removed", len(batch.Removed))

		select {
		case w.batches <- batch:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			logger.Debug("Watcher stopped.")
			return ctx.Err()

		case <-flushC:
			flush()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}

			switch {
			case event.Op.Has(fsnotify.Create):
				// A freshly created directory must be watched before
				// files appear inside it.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchTree(event.Name); err != nil {
						logger.Warn("Failed to watch new directory.", "path", event.Name, "error", err)
					}
					continue
				}
				delete(pendingRemoved, event.Name)
				pendingModified[event.Name] = true
				armFlush()
			case event.Op.Has(fsnotify.Write):
				delete(pendingRemoved, event.Name)
				pendingModified[event.Name] = true
				armFlush()
			case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
				delete(pendingModified, event.Name)
				pendingRemoved[event.Name] = true
				armFlush()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error.", "error", err)
		}
	}
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, root := range w.roots {
		if rel, err := filepath.Rel(root, path); err == nil && !filepath.IsAbs(rel) {
			if fsutil.Ignored(filepath.ToSlash(rel), base, w.ignore) {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
