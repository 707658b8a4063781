// Package watch re-syncs book directories when their files change.
//
// The watcher:
//  1. Optionally syncs every book directory under the collection root
//  2. Watches the root and each book directory with fsnotify
//  3. Queues the book directory of every audio file event
//  4. Syncs queued directories once they have been quiet for the debounce
//     interval, one at a time
package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bookreader/chaptersync/internal/audio"
	"github.com/fsnotify/fsnotify"
)

// SyncFunc syncs one book directory.
type SyncFunc func(ctx context.Context, dir string) error

// Config holds configuration for the watcher.
type Config struct {
	// DebounceInterval is how long a directory must be quiet before it is
	// synced. Copying a chapter produces a burst of write events.
	DebounceInterval time.Duration

	// InitialSync syncs every book directory before watching.
	InitialSync bool

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig debounces for two seconds, syncs once at startup and logs
// to stderr.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		InitialSync:      true,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Watcher watches a collection root and syncs changed book directories.
type Watcher struct {
	root   string
	sync   SyncFunc
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // book dir -> last event
	changeQueueMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// New creates a watcher with the default configuration.
func New(root string, fn SyncFunc) (*Watcher, error) {
	return NewWithConfig(root, fn, DefaultConfig())
}

// NewWithConfig creates a watcher with custom configuration.
func NewWithConfig(root string, fn SyncFunc, config *Config) (*Watcher, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("sync func cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		root:        absRoot,
		sync:        fn,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ready:       make(chan struct{}),
	}, nil
}

// Ready is closed once the watches are in place.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Start watches the root until ctx is cancelled. It blocks.
func (w *Watcher) Start(ctx context.Context) error {
	w.config.Logger.Printf("Starting watcher on %s", w.root)

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	defer cancel()

	dirs, err := w.bookDirs()
	if err != nil {
		return err
	}

	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.config.Logger.Printf("Warning: failed to watch %s: %v", dir, err)
		}
	}

	if w.config.InitialSync {
		w.config.Logger.Printf("Initial sync of %d book directories", len(dirs))
		for _, dir := range dirs {
			w.runSync(ctx, dir)
		}
	}

	w.wg.Add(2)
	go w.watchFileEvents(ctx)
	go w.processChangeQueue(ctx)

	w.readyOnce.Do(func() { close(w.ready) })
	w.config.Logger.Printf("Watching %d book directories", len(dirs))

	<-ctx.Done()
	w.config.Logger.Println("Shutdown signal received")
	return w.Stop()
}

// Stop shuts the watcher down and waits for in-flight syncs to finish.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
		w.wg.Wait()
		w.config.Logger.Println("Watcher stopped")
	})
	return err
}

// bookDirs lists the immediate subdirectories of the root in name order.
func (w *Watcher) bookDirs() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", w.root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(w.root, e.Name()))
		}
	}
	return dirs, nil
}

// watchFileEvents monitors filesystem events and queues book directories.
func (w *Watcher) watchFileEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
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
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	// A new book directory appeared in the root.
	if filepath.Dir(event.Name) == w.root {
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.config.Logger.Printf("Warning: failed to watch %s: %v", event.Name, err)
					return
				}
				w.config.Logger.Printf("Watching new book directory %s", event.Name)
				w.queueChange(event.Name)
			}
		}
		return
	}

	dir, ok := w.BookDirFor(event.Name)
	if !ok || !audio.HasAudioExtension(event.Name) {
		return
	}
	w.queueChange(dir)
}

// BookDirFor returns the book directory an event path belongs to: the
// immediate subdirectory of the root that directly contains it.
func (w *Watcher) BookDirFor(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	dir := filepath.Dir(abs)
	if filepath.Dir(dir) != w.root {
		return "", false
	}
	return dir, true
}

// queueChange records an event for dir, restarting its debounce window.
func (w *Watcher) queueChange(dir string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	w.changeQueue[dir] = time.Now()
}

// processChangeQueue syncs quiet directories on a ticker.
func (w *Watcher) processChangeQueue(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			for _, dir := range w.takeReady(time.Now()) {
				w.runSync(ctx, dir)
			}
		}
	}
}

// takeReady removes and returns the directories quiet for at least the
// debounce interval, in name order.
func (w *Watcher) takeReady(now time.Time) []string {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	var ready []string
	for dir, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		ready = append(ready, dir)
		delete(w.changeQueue, dir)
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) runSync(ctx context.Context, dir string) {
	w.config.Logger.Printf("Syncing %s", dir)
	if err := w.sync(ctx, dir); err != nil && !errors.Is(err, context.Canceled) {
		w.config.Logger.Printf("Error syncing %s: %v", dir, err)
	}
}
