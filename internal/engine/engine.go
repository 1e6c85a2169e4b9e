// Package engine brackets the lifetime of the object runtime: it creates the
// registry with the built-in classes, loads the configured plugins and tears
// everything down again on Quit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/speect-go/internal/config"
	"github.com/dgnsrekt/speect-go/internal/pluginmanager"
	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

// Engine owns a class registry and the plugin manager loading into it.
type Engine struct {
	cfg     *config.Config
	logger  *log.Logger
	opener  pluginmanager.Opener
	reg     *objsys.Registry
	plugins *pluginmanager.Manager
	watcher *pluginmanager.Watcher

	stopWatch context.CancelFunc
	watchDone chan error

	mu   sync.Mutex
	done bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine, registry and plugin
// manager.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithOpener sets how plugin libraries are opened.
func WithOpener(opener pluginmanager.Opener) Option {
	return func(e *Engine) {
		e.opener = opener
	}
}

// New starts an engine: it registers the built-in classes, autoloads the
// configured plugins and, if configured, starts watching the plugin
// directory. Autoload is all or nothing. ctx bounds the watcher.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{
		cfg:    cfg,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.reg = objsys.NewRegistry(cfg.RegistryConfig(e.logger))
	if err := objsys.RegisterBuiltins(e.reg); err != nil {
		return nil, fmt.Errorf("failed to register built-in classes: %w", err)
	}

	mcfg := cfg.ManagerConfig(e.logger)
	mcfg.Opener = e.opener
	e.plugins = pluginmanager.New(e.reg, mcfg)

	if err := e.autoload(cfg.Plugins.Autoload); err != nil {
		// picks up plugins a failed load left tracked
		if cerr := e.plugins.Close(); cerr != nil {
			e.logger.Warn("failed to unload plugins", "error", cerr)
		}
		if cerr := e.reg.Clear(); cerr != nil {
			e.logger.Warn("failed to clear registry", "error", cerr)
		}
		return nil, err
	}

	if cfg.Plugins.Watch {
		if err := e.startWatcher(ctx); err != nil {
			_ = e.plugins.Close()
			_ = e.reg.Clear()
			return nil, err
		}
	}

	e.logger.Debug("engine started", "stats", e.reg.Stats().String())
	return e, nil
}

// autoload loads plugins concurrently. A plugin whose parent classes come
// from another autoloaded plugin fails with NOT_FOUND until that one is in,
// so such failures are retried as long as each round makes progress.
func (e *Engine) autoload(paths []string) error {
	var loaded []*pluginmanager.Plugin
	pending := paths

	for len(pending) > 0 {
		results := make([]*pluginmanager.Plugin, len(pending))
		errs := make([]error, len(pending))

		var g errgroup.Group
		for i, path := range pending {
			g.Go(func() error {
				results[i], errs[i] = e.plugins.Load(path)
				return errs[i]
			})
		}
		firstErr := g.Wait()

		var retry []string
		progress := false
		for i, p := range results {
			if p != nil {
				loaded = append(loaded, p)
				progress = true
				continue
			}
			if errors.Is(errs[i], objsys.ErrNotFound) {
				retry = append(retry, pending[i])
			}
		}

		if firstErr == nil {
			break
		}
		// only missing parent classes are worth another round
		if !progress || len(retry) != len(pending)-countLoaded(results) {
			e.rollback(loaded)
			return fmt.Errorf("failed to autoload plugins: %w", firstErr)
		}
		pending = retry
	}

	if len(loaded) > 0 {
		e.logger.Info("plugins autoloaded", "count", len(loaded))
	}
	return nil
}

func countLoaded(results []*pluginmanager.Plugin) int {
	n := 0
	for _, p := range results {
		if p != nil {
			n++
		}
	}
	return n
}

func (e *Engine) rollback(loaded []*pluginmanager.Plugin) {
	for i := len(loaded) - 1; i >= 0; i-- {
		if err := e.plugins.Unload(loaded[i]); err != nil {
			e.logger.Warn("failed to roll back plugin", "plugin", loaded[i].Name(), "error", err)
		}
	}
}

func (e *Engine) startWatcher(ctx context.Context) error {
	w, err := pluginmanager.NewWatcher(e.plugins, e.cfg.Plugins.Path, e.cfg.Plugins.RetryInterval)
	if err != nil {
		return fmt.Errorf("failed to start plugin watcher: %w", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	e.watcher = w
	e.stopWatch = cancel
	e.watchDone = make(chan error, 1)
	go func() {
		e.watchDone <- w.Run(wctx)
	}()
	return nil
}

// Registry returns the engine's class registry.
func (e *Engine) Registry() *objsys.Registry {
	return e.reg
}

// Plugins returns the engine's plugin manager.
func (e *Engine) Plugins() *pluginmanager.Manager {
	return e.plugins
}

// Watcher returns the plugin directory watcher, or nil when not watching.
func (e *Engine) Watcher() *pluginmanager.Watcher {
	return e.watcher
}

// Quit stops the watcher, unloads every plugin and clears the registry. If
// objects are still live it fails with IN_USE and can be called again once
// they are released. Calling Quit after it succeeded does nothing.
func (e *Engine) Quit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return nil
	}

	if e.stopWatch != nil {
		e.stopWatch()
		if err := <-e.watchDone; err != nil {
			e.logger.Warn("plugin watcher stopped with error", "error", err)
		}
		e.stopWatch = nil
	}

	if err := e.plugins.Close(); err != nil {
		return fmt.Errorf("failed to unload plugins: %w", err)
	}
	if err := e.reg.Clear(); err != nil {
		return fmt.Errorf("failed to clear class registry: %w", err)
	}

	e.done = true
	e.logger.Debug("engine stopped")
	return nil
}
