// Package watch invalidates the search cache when files under the project
// root change on disk.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/sift/internal/config"
	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/fileservice"
	"github.com/standardbeagle/sift/internal/types"
)

// Invalidator drops cached results that a file change may have made stale.
type Invalidator interface {
	InvalidateFile(id types.FileID) bool
}

// Stats contains statistics about file watching
type Stats struct {
	EventsProcessed int64     `json:"events_processed"`
	Invalidations   int64     `json:"invalidations"`
	ErrorCount      int64     `json:"error_count"`
	LastEventTime   time.Time `json:"last_event_time"`
	IsActive        bool      `json:"is_active"`
}

// Watcher monitors the project root and forwards debounced file changes to
// an Invalidator.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	scanner  *fileservice.Scanner
	target   Invalidator
	debounce time.Duration
	enabled  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onBatch, if set, observes every flushed batch.
	onBatch func(ids []types.FileID)

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a watcher for the scanner's root.
func New(cfg *config.Config, scanner *fileservice.Scanner, target Invalidator) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	root := scanner.Root()
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		watcher:  fw,
		root:     root,
		scanner:  scanner,
		target:   target,
		debounce: debounce,
		enabled:  cfg.Watch.Enabled,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start adds watches for every non-excluded directory and begins
// processing events.
func (w *Watcher) Start() error {
	if !w.enabled {
		log.Printf("File watching disabled in configuration")
		return nil
	}

	debug.LogWatch("starting file watcher for %s", w.root)
	if err := w.addWatches(w.root); err != nil {
		return fmt.Errorf("failed to add watches starting from %s: %w", w.root, err)
	}

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop closes the watcher and waits for event processing to end. Pending
// changes are dropped.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	debug.LogWatch("file watcher stopped")
	return err
}

// Stats returns current watch statistics.
func (w *Watcher) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	s := w.stats
	s.IsActive = w.ctx.Err() == nil
	return s
}

// rel returns the root-relative slash path of p.
func (w *Watcher) rel(p string) (string, bool) {
	r, err := filepath.Rel(w.root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	if r == "." {
		return "", true
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	if rel == "" {
		return false
	}
	if w.scanner.Excluded(rel) {
		return true
	}
	return isDir && w.scanner.Excluded(rel+"/")
}

// addWatches walks dir and watches every directory that is not excluded.
func (w *Watcher) addWatches(dir string) error {
	visited := make(map[string]bool)
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		real, err := filepath.EvalSymlinks(p)
		if err != nil || visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if rel, ok := w.rel(p); !ok || w.ignored(rel, true) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			log.Printf("Warning: failed to add watch for %s: %v", p, err)
		}
		return nil
	})
}

// filesUnder lists the files below a newly created directory.
func (w *Watcher) filesUnder(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files
}

// processEvents collects events and flushes them once no new event arrived
// for the debounce interval.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	pending := make(map[types.FileID]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handleEvent(event, pending) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.statsMu.Lock()
			w.stats.ErrorCount++
			w.statsMu.Unlock()
			log.Printf("File watcher error: %v", err)

		case <-timer.C:
			w.flush(pending)
			pending = make(map[types.FileID]struct{})
		}
	}
}

// handleEvent records the files affected by event. It reports whether any
// file was added to pending.
func (w *Watcher) handleEvent(event fsnotify.Event, pending map[types.FileID]struct{}) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	debug.LogWatch("event %v for %s", event.Op, event.Name)

	paths := []string{event.Name}
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if rel, ok := w.rel(event.Name); !ok || w.ignored(rel, true) {
				return false
			}
			if err := w.addWatches(event.Name); err != nil {
				log.Printf("Warning: failed to add watch for new directory %s: %v", event.Name, err)
			}
			paths = w.filesUnder(event.Name)
		}
	}

	added := false
	for _, p := range paths {
		rel, ok := w.rel(p)
		if !ok || rel == "" || w.ignored(rel, false) {
			continue
		}
		pending[types.FileID(rel)] = struct{}{}
		added = true
	}
	return added
}

func (w *Watcher) flush(pending map[types.FileID]struct{}) {
	if len(pending) == 0 {
		return
	}
	ids := make([]types.FileID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	debug.LogWatch("processing %d debounced file events", len(ids))

	var invalidations int64
	for _, id := range ids {
		if w.target != nil && w.target.InvalidateFile(id) {
			invalidations++
		}
	}

	w.statsMu.Lock()
	w.stats.EventsProcessed += int64(len(ids))
	w.stats.Invalidations += invalidations
	w.stats.LastEventTime = time.Now()
	w.statsMu.Unlock()

	if w.onBatch != nil {
		w.onBatch(ids)
	}
}
