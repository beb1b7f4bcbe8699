// Package watcher watches drop folders and feeds file changes into ingestion,
// with debouncing so half-written files are not picked up mid-copy.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches directories and invokes callbacks on file changes.
// Directories can be added and removed while it runs.
type Watcher struct {
	extensions []string
	recursive  bool
	onIngest   func(path string)
	onRemove   func(path string)
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	roots     []string
	rootPaths map[string][]string // root -> directories registered with fsnotify

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over the given roots. onIngest fires after a file
// with a matching extension is created or written and has settled; onRemove
// fires when such a file disappears. Extensions filter which files are
// considered (empty = all).
func New(roots, extensions []string, recursive bool, onIngest, onRemove func(path string), logger *zap.Logger) *Watcher {
	return &Watcher{
		extensions: extensions,
		recursive:  recursive,
		onIngest:   onIngest,
		onRemove:   onRemove,
		debounce:   defaultDebounce,
		logger:     logger,
		roots:      append([]string(nil), roots...),
		rootPaths:  make(map[string][]string),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
}

// Start begins watching and ingests files already present under the roots.
// It runs until Stop is called.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.watcher = watcher
	initial := w.roots
	w.roots = nil
	for _, root := range initial {
		if err := w.addDirectoryLocked(root); err != nil {
			w.mu.Unlock()
			_ = watcher.Close()
			return err
		}
	}
	w.mu.Unlock()

	go w.run()
	w.logger.Info("watching drop folders",
		zap.Strings("roots", w.Directories()),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	return nil
}

// Stop stops the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
		w.timersMu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.timers = make(map[string]*time.Timer)
		w.timersMu.Unlock()
	})
}

// Directories returns the currently watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// AddDirectory starts watching root and queues its existing matching files
// for ingestion. Adding an already watched root is a no-op.
func (w *Watcher) AddDirectory(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return fmt.Errorf("watcher is not running")
	}
	return w.addDirectoryLocked(root)
}

// RemoveDirectory stops watching root. Files already ingested from it stay
// indexed. Removing an unknown root is a no-op.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.watcher != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.watcher.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("watch directory removed", zap.String("path", abs))
	return nil
}

func (w *Watcher) addDirectoryLocked(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	if err := w.watchTree(abs, abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	return nil
}

// watchTree registers dir (and its subdirectories when recursive) with
// fsnotify under root's bookkeeping entry, and queues existing matching
// files for ingestion. Caller holds mu.
func (w *Watcher) watchTree(dir, root string) error {
	if !w.recursive {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.rootPaths[root] = append(w.rootPaths[root], dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() && w.matchExtension(e.Name()) {
				w.scheduleIngest(filepath.Join(dir, e.Name()))
			}
		}
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			w.rootPaths[root] = append(w.rootPaths[root], path)
			return nil
		}
		if w.matchExtension(path) {
			w.scheduleIngest(path)
		}
		return nil
	})
}

// rootFor returns the watched root containing path. Caller holds mu.
func (w *Watcher) rootFor(path string) string {
	for _, r := range w.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return r
		}
	}
	return path
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.recursive {
				w.mu.Lock()
				err := w.watchTree(path, w.rootFor(path))
				w.mu.Unlock()
				if err != nil {
					w.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
				}
			}
			return
		}
		if w.matchExtension(path) {
			w.scheduleIngest(path)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		if !w.matchExtension(path) {
			return
		}
		w.cancelPending(path)
		if w.onRemove != nil {
			w.onRemove(path)
		}
	}
}

// scheduleIngest (re)arms the debounce timer for path. Repeated writes keep
// pushing the timer back until the file settles.
func (w *Watcher) scheduleIngest(path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.timersMu.Lock()
		delete(w.timers, path)
		w.timersMu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		if w.onIngest != nil {
			w.onIngest(path)
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range w.extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}
