package pluginmanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

// DefaultRetryInterval is how often a Watcher retries unloads that failed
// because the plugin's classes were in use.
const DefaultRetryInterval = 5 * time.Second

// Watcher follows a plugin directory: plugin files that appear are loaded,
// plugin files that disappear are unloaded.
type Watcher struct {
	m       *Manager
	dir     string
	retry   time.Duration
	limiter *rate.Limiter

	mu      sync.Mutex
	loaded  map[string]*Plugin // by file path, loads owned by the watcher
	pending map[string]*Plugin // unloads waiting for live objects to go
}

// NewWatcher creates a watcher for dir. A zero retry uses
// DefaultRetryInterval.
func NewWatcher(m *Manager, dir string, retry time.Duration) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch directory: %w", err)
	}
	if retry <= 0 {
		retry = DefaultRetryInterval
	}

	return &Watcher{
		m:     m,
		dir:   abs,
		retry: retry,
		// at most one retried unload per interval, with a small burst
		limiter: rate.NewLimiter(rate.Every(retry), 4),
		loaded:  make(map[string]*Plugin),
		pending: make(map[string]*Plugin),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Run loads the plugins already in the directory, then follows it until ctx
// is done. Plugins loaded by the watcher stay loaded when Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.m.logger.Info("watching plugin directory", "dir", w.dir)

	w.scan()

	ticker := time.NewTicker(w.retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.m.logger.Debug("plugin directory unwatched", "dir", w.dir)
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.isPlugin(event.Name) {
				continue
			}
			w.m.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)

			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.unload(event.Name)
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.load(event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.m.logger.Warn("fsnotify error", "dir", w.dir, "error", err)

		case <-ticker.C:
			w.retryPending()
		}
	}
}

// Loaded returns the plugin files currently loaded by the watcher, sorted.
func (w *Watcher) Loaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]string, 0, len(w.loaded))
	for f := range w.loaded {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Pending returns the plugin files waiting to be unloaded, sorted.
func (w *Watcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (w *Watcher) isPlugin(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == w.m.config.Extension || ext == compressedExt
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.m.logger.Warn("failed to read plugin directory", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := filepath.Join(w.dir, e.Name()); w.isPlugin(name) {
			w.load(name)
		}
	}
}

func (w *Watcher) load(file string) {
	w.mu.Lock()
	_, loaded := w.loaded[file]
	if p, ok := w.pending[file]; ok {
		// the file came back before its unload went through
		delete(w.pending, file)
		w.loaded[file] = p
		loaded = true
	}
	w.mu.Unlock()
	if loaded {
		return
	}

	p, err := w.m.Load(file)
	if err != nil {
		w.m.logger.Warn("failed to load plugin", "file", file, "error", err)
		return
	}

	w.mu.Lock()
	w.loaded[file] = p
	w.mu.Unlock()
}

func (w *Watcher) unload(file string) {
	w.mu.Lock()
	p, ok := w.loaded[file]
	delete(w.loaded, file)
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.m.Unload(p); err != nil {
		if errors.Is(err, objsys.ErrInUse) {
			w.m.logger.Info("plugin in use, unload deferred", "file", file)
			w.mu.Lock()
			w.pending[file] = p
			w.mu.Unlock()
			return
		}
		w.m.logger.Warn("failed to unload plugin", "file", file, "error", err)
	}
}

func (w *Watcher) retryPending() {
	w.mu.Lock()
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.mu.Unlock()
	sort.Strings(files)

	for _, file := range files {
		if !w.limiter.Allow() {
			return
		}

		w.mu.Lock()
		p, ok := w.pending[file]
		delete(w.pending, file)
		w.mu.Unlock()
		if !ok {
			continue
		}

		err := w.m.Unload(p)
		if errors.Is(err, objsys.ErrInUse) {
			w.mu.Lock()
			w.pending[file] = p
			w.mu.Unlock()
			continue
		}
		if err != nil {
			w.m.logger.Warn("failed to unload plugin", "file", file, "error", err)
			continue
		}
		w.m.logger.Info("deferred plugin unload done", "file", file)
	}
}
