// Package watcher provides directory-level file system watching.
//
// The watcher is a thin collaborator: it registers directories with fsnotify,
// filters ignored paths, and forwards add/modify/remove callbacks. Deciding
// what a path means (source, dependency, compilation database) is the
// project's business.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"xref/internal/logging"
)

// Handler receives file system callbacks. Calls arrive on the watcher's event
// goroutine; handlers must hand work off rather than block.
type Handler interface {
	OnFileAdded(path string)
	OnFileModified(path string)
	OnFileRemoved(path string)
}

// Config contains watcher configuration.
type Config struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignore_patterns"`
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		IgnorePatterns: []string{
			"**/.git/**",
			"**/*.tmp",
			"**/*.swp",
			"**/node_modules/**",
			"**/.xref/**",
		},
	}
}

// Watcher wraps fsnotify with idempotent per-directory registration.
type Watcher struct {
	config  Config
	logger  *logging.Logger
	handler Handler

	fs   *fsnotify.Watcher
	dirs map[string]struct{}

	done chan struct{}
	mu   sync.Mutex
	wg   sync.WaitGroup
}

// New creates a watcher delivering events to handler.
func New(config Config, logger *logging.Logger, handler Handler) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		config:  config,
		logger:  logger,
		handler: handler,
		fs:      fs,
		dirs:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start begins delivering events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.eventLoop()
}

// Stop stops the watcher and waits for the event loop.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

// Watch registers a directory. Registering twice is a no-op.
func (w *Watcher) Watch(dir string) error {
	if !w.config.Enabled {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = struct{}{}
	w.logger.Debug("Watching directory", map[string]interface{}{
		"dir": dir,
	})
	return nil
}

// Unwatch unregisters a directory.
func (w *Watcher) Unwatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[dir]; !ok {
		return
	}
	delete(w.dirs, dir)
	if err := w.fs.Remove(dir); err != nil {
		w.logger.Debug("Unwatch failed", map[string]interface{}{
			"dir":   dir,
			"error": err.Error(),
		})
	}
}

// WatchedDirs returns the registered directories.
func (w *Watcher) WatchedDirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirs := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		dirs = append(dirs, dir)
	}
	return dirs
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.dispatch(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			// Watcher failures are warnings; the project keeps running
			// without that watch.
			w.logger.Warn("File watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) dispatch(event fsnotify.Event) {
	if w.isIgnored(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		w.handler.OnFileAdded(event.Name)
	case event.Has(fsnotify.Write):
		w.handler.OnFileModified(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.handler.OnFileRemoved(event.Name)
	}
}

func (w *Watcher) isIgnored(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, pattern := range w.config.IgnorePatterns {
		if ok, err := doublestar.Match(pattern, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

// Debouncer delays execution until a quiet period has passed. The project's
// dirty timer uses it to coalesce bursts of file events into one re-index.
type Debouncer struct {
	delay   time.Duration
	timer   *time.Timer
	mu      sync.Mutex
	pending func()
}

// NewDebouncer creates a debouncer with the specified delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules or resets the debounced function.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		fn := d.pending
		d.pending = nil
		d.timer = nil
		d.mu.Unlock()

		if fn != nil {
			fn()
		}
	})
}

// Armed reports whether a trigger is pending.
func (d *Debouncer) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel drops any pending execution.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// Flush immediately executes any pending function.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}
