// Package watch emits debounced batches of changed source paths, feeding
// rebuilds in watch and serve modes.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kilnbuild/kiln/internal/graph"
)

// Batch is one debounced set of file changes, with paths relative to the
// project root in slash form. A path never appears in both sets.
type Batch struct {
	Changed map[string]struct{}
	Removed map[string]struct{}
}

// Config configures a Watcher.
type Config struct {
	// Root is the project directory watched recursively.
	Root string

	// IgnoreDirs are directory names skipped entirely.
	IgnoreDirs []string

	// Debounce is the quiet window after the last event before a batch is
	// emitted. Rapid saves collapse into one rebuild.
	Debounce time.Duration
}

// DefaultConfig returns the watcher configuration for a project root.
func DefaultConfig(root string) *Config {
	return &Config{
		Root:       root,
		IgnoreDirs: []string{".git", ".kiln", ".dart_tool", "node_modules", ".idea", ".vscode"},
		Debounce:   250 * time.Millisecond,
	}
}

// Watcher watches a project tree and emits rebuild batches.
type Watcher struct {
	config  *Config
	watcher *fsnotify.Watcher
	batches chan Batch
	errors  chan error
	done    chan struct{}

	mu      sync.Mutex
	running bool

	pendingMu sync.Mutex
	pending   *Batch
	timer     *time.Timer
}

// New creates a watcher over config.Root. Call Start to begin watching.
func New(config *Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		config:  config,
		watcher: fsWatcher,
		batches: make(chan Batch, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start registers the project tree and begins emitting batches until ctx
// is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addRecursive(w.config.Root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases its OS resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.done)
	return w.watcher.Close()
}

// Batches returns the channel of debounced change batches.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		for _, ignore := range w.config.IgnoreDirs {
			if info.Name() == ignore {
				return filepath.SkipDir
			}
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
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
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.config.Root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if w.ignored(rel) || graph.TransientArtifact(rel) {
		return
	}

	// New directories must be registered or changes inside them are
	// silently missed.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				select {
				case w.errors <- err:
				default:
				}
			}
			return
		}
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.collect(rel, false)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.collect(rel, true)
	}
}

// collect folds one path into the pending batch and (re)arms the debounce
// timer. A change after a removal supersedes it and vice versa.
func (w *Watcher) collect(rel string, removed bool) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.pending == nil {
		w.pending = &Batch{
			Changed: make(map[string]struct{}),
			Removed: make(map[string]struct{}),
		}
	}
	if removed {
		delete(w.pending.Changed, rel)
		w.pending.Removed[rel] = struct{}{}
	} else {
		delete(w.pending.Removed, rel)
		w.pending.Changed[rel] = struct{}{}
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	batch := w.pending
	w.pending = nil
	w.timer = nil
	w.pendingMu.Unlock()

	if batch == nil || (len(batch.Changed) == 0 && len(batch.Removed) == 0) {
		return
	}
	select {
	case w.batches <- *batch:
	case <-w.done:
	}
}

func (w *Watcher) ignored(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		for _, ignore := range w.config.IgnoreDirs {
			if part == ignore {
				return true
			}
		}
	}
	return false
}
