package pluginmanager

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/speect-go/internal/cache"
	"github.com/dgnsrekt/speect-go/pkg/objsys"
	"github.com/dgnsrekt/speect-go/pkg/spi"
)

// DefaultExtension is appended to plugin paths given without an extension.
const DefaultExtension = ".spi"

// Config holds configuration for a Manager.
type Config struct {
	// SearchPath is the directory bare plugin file names are resolved in.
	SearchPath string

	// Extension is appended to plugin paths that have none.
	Extension string

	// CacheDir receives decompressed copies of .zst plugins.
	CacheDir string

	// CacheMaxBytes bounds the size of CacheDir, 0 for no bound.
	CacheMaxBytes int64

	// Opener opens plugin libraries. Defaults to GoPluginOpener.
	Opener Opener

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() *Config {
	return &Config{
		SearchPath: ".",
		Extension:  DefaultExtension,
		CacheDir:   filepath.Join(".", ".speect-cache"),
		Opener:     GoPluginOpener{},
		Logger:     log.Default(),
	}
}

// Manager loads and unloads plugins against one registry. It is safe for
// concurrent use; its lock is never held while plugin code runs.
type Manager struct {
	reg    *objsys.Registry
	config Config
	logger *log.Logger

	mu         sync.Mutex
	searchPath string
	plugins    map[string]*Plugin
	order      []*Plugin

	loading singleflight.Group

	storeOnce sync.Once
	store     *cache.Store
	storeErr  error
}

// New creates a plugin manager for reg.
func New(reg *objsys.Registry, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if cfg.Opener == nil {
		cfg.Opener = GoPluginOpener{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Manager{
		reg:        reg,
		config:     cfg,
		logger:     cfg.Logger,
		searchPath: cfg.SearchPath,
		plugins:    make(map[string]*Plugin),
	}
}

func newError(code objsys.ErrorCode, op, format string, args ...interface{}) *objsys.Error {
	return objsys.NewError(code, op, "", fmt.Sprintf(format, args...), nil)
}

// Registry returns the registry plugins are loaded into.
func (m *Manager) Registry() *objsys.Registry {
	return m.reg
}

// SetSearchPath sets the directory bare plugin names are resolved in.
func (m *Manager) SetSearchPath(dir string) {
	m.mu.Lock()
	m.searchPath = dir
	m.mu.Unlock()
}

// SearchPath returns the directory bare plugin names are resolved in.
func (m *Manager) SearchPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchPath
}

// Resolve turns a user supplied plugin path into the absolute path used as
// the plugin's cache key. "~" is expanded, a bare file name is looked up in
// the search path and a missing extension gets the default one.
func (m *Manager) Resolve(path string) (string, error) {
	const op = "Manager.Resolve"

	if strings.TrimSpace(path) == "" {
		return "", newError(objsys.ErrorCodeArg, op, "plugin path is empty")
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", objsys.NewError(objsys.ErrorCodeArg, op, "", "failed to expand path", err)
	}
	if filepath.Base(expanded) == expanded {
		expanded = filepath.Join(m.SearchPath(), expanded)
	}
	if filepath.Ext(expanded) == "" {
		expanded += m.config.Extension
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", objsys.NewError(objsys.ErrorCodeIO, op, "", "failed to resolve path", err)
	}
	return abs, nil
}

// Load loads the plugin at path and registers its classes. Loading a path
// that is already loaded returns the same handle and counts one more load.
func (m *Manager) Load(path string) (*Plugin, error) {
	const op = "Manager.Load"

	resolved, err := m.Resolve(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if p, ok := m.plugins[resolved]; ok {
		if p.failed {
			m.mu.Unlock()
			return nil, strandedError(op, p)
		}
		p.loads++
		loads := p.loads
		m.mu.Unlock()
		m.logger.Debug("plugin already loaded", "plugin", p.Name(), "loads", loads)
		return p, nil
	}
	m.mu.Unlock()

	v, err, _ := m.loading.Do(resolved, func() (interface{}, error) {
		m.mu.Lock()
		if p, ok := m.plugins[resolved]; ok {
			m.mu.Unlock()
			if p.failed {
				return nil, strandedError(op, p)
			}
			return p, nil
		}
		m.mu.Unlock()

		p, err := m.open(op, resolved)
		if p != nil {
			m.mu.Lock()
			m.plugins[resolved] = p
			m.order = append(m.order, p)
			if p.failed {
				// held until Unload or Close rolls it back
				p.loads = 1
			}
			m.mu.Unlock()
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	p := v.(*Plugin)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.plugins[resolved] != p {
		return nil, newError(objsys.ErrorCodeIO, op, "plugin '%s' was unloaded while loading", resolved)
	}
	p.loads++
	return p, nil
}

// open opens the library at path, runs its entry point and registers its
// classes. On failure nothing stays registered and the library is closed.
func (m *Manager) open(op, path string) (p *Plugin, err error) {
	openPath := path
	var cacheKey string
	// set when classes could not be rolled back; the library must stay open
	stranded := false
	if strings.HasSuffix(path, compressedExt) {
		openPath, cacheKey, err = m.extract(path)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err != nil && !stranded {
				m.store.Unpin(cacheKey)
			}
		}()
	}

	lib, err := m.config.Opener.Open(openPath)
	if err != nil {
		return nil, objsys.NewError(objsys.ErrorCodeIO, op, "",
			fmt.Sprintf("failed to open plugin '%s'", path), err).WithContext("path", path)
	}
	defer func() {
		if err != nil && !stranded {
			if cerr := lib.Close(); cerr != nil {
				m.logger.Warn("failed to close plugin library", "path", path, "error", cerr)
			}
		}
	}()

	sym, err := lib.Lookup(spi.EntryPoint)
	if err != nil {
		return nil, objsys.NewError(objsys.ErrorCodeSymbolMissing, op, "",
			fmt.Sprintf("plugin '%s' does not export %s", path, spi.EntryPoint), err)
	}
	initFn, ok := sym.(spi.InitFunc)
	if !ok {
		return nil, newError(objsys.ErrorCodeSymbolMissing, op,
			"plugin '%s' exports %s with wrong type %T", path, spi.EntryPoint, sym)
	}

	params, err := initFn(objsys.ABIVersion)
	if err != nil {
		return nil, objsys.NewError(objsys.ErrorCodeMethodFailed, op, "",
			fmt.Sprintf("plugin '%s' initialization failed", path), err)
	}
	if err := params.Validate(); err != nil {
		return nil, objsys.NewError(objsys.ErrorCodeArg, op, "",
			fmt.Sprintf("plugin '%s' returned invalid params", path), err)
	}
	if !params.ABI.Compatible(objsys.ABIVersion) {
		return nil, newError(objsys.ErrorCodeVersionMismatch, op,
			"plugin '%s' built for ABI %s, runtime is %s", params.Name, params.ABI, objsys.ABIVersion).
			WithContext("plugin_abi", params.ABI).
			WithContext("runtime_abi", objsys.ABIVersion)
	}

	if err := m.reg.RegisterAll(params.Classes...); err != nil {
		return nil, fmt.Errorf("failed to register classes of plugin '%s': %w", params.Name, err)
	}
	classes := params.ClassNames()

	p = &Plugin{
		path:     path,
		openPath: openPath,
		cacheKey: cacheKey,
		lib:      lib,
		params:   params,
		classes:  classes,
		loadedAt: time.Now(),
	}

	if params.Register != nil {
		if rerr := params.Register(m.reg); rerr != nil {
			err = objsys.NewError(objsys.ErrorCodeMethodFailed, op, "",
				fmt.Sprintf("plugin '%s' register callback failed", params.Name), rerr)
			if uerr := m.reg.UnregisterAll(classes...); uerr != nil {
				// the callback left instances of the plugin's classes
				// behind; the caller tracks p until Unload can finish
				stranded = true
				p.failed = true
				m.logger.Warn("plugin classes still in use after failed load",
					"plugin", params.Name, "error", uerr)
				return p, errors.Join(err, uerr)
			}
			return nil, err
		}
	}

	m.logger.Info("plugin loaded",
		"plugin", params.Name,
		"version", params.Version,
		"classes", len(classes),
		"path", path)

	return p, nil
}

func strandedError(op string, p *Plugin) error {
	return newError(objsys.ErrorCodeInUse, op,
		"plugin '%s' failed to load and its classes are still in use; unload it first", p.path).
		WithContext("path", p.path)
}

// Unload drops one load of p. The last one unregisters the plugin's classes,
// runs its Free and AtExit callbacks and closes the library. If any of its
// classes still has live instances, Unload fails with IN_USE and the plugin
// stays loaded with its load count unchanged.
func (m *Manager) Unload(p *Plugin) error {
	return m.unload("Manager.Unload", p, false)
}

func (m *Manager) unload(op string, p *Plugin, force bool) error {
	if p == nil {
		return newError(objsys.ErrorCodeArg, op, "plugin is nil")
	}

	m.mu.Lock()
	if m.plugins[p.path] != p {
		m.mu.Unlock()
		return newError(objsys.ErrorCodeArg, op, "plugin '%s' is not loaded", p.path)
	}
	if p.loads > 1 && !force {
		p.loads--
		m.mu.Unlock()
		return nil
	}
	// registry calls run no plugin code
	if err := m.reg.UnregisterAll(p.classes...); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to unload plugin '%s': %w", p.Name(), err)
	}
	delete(m.plugins, p.path)
	for i, q := range m.order {
		if q == p {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	p.loads = 0
	m.mu.Unlock()

	var errs []error
	if p.params.Free != nil && !p.failed {
		if err := p.params.Free(m.reg); err != nil {
			errs = append(errs, fmt.Errorf("free: %w", err))
		}
	}
	if p.params.AtExit != nil {
		if err := p.params.AtExit(); err != nil {
			errs = append(errs, fmt.Errorf("at exit: %w", err))
		}
	}
	if err := p.lib.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if p.cacheKey != "" {
		m.store.Unpin(p.cacheKey)
	}

	m.logger.Info("plugin unloaded", "plugin", p.Name(), "path", p.path)

	if len(errs) > 0 {
		return objsys.NewError(objsys.ErrorCodeMethodFailed, op, "",
			fmt.Sprintf("plugin '%s' unloaded with errors", p.Name()), errors.Join(errs...))
	}
	return nil
}

// IsLoaded reports whether the plugin at path is loaded.
func (m *Manager) IsLoaded(path string) bool {
	resolved, err := m.Resolve(path)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.plugins[resolved]
	return ok
}

// Lookup returns the loaded plugin for path.
func (m *Manager) Lookup(path string) (*Plugin, bool) {
	resolved, err := m.Resolve(path)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[resolved]
	return p, ok
}

// Loads returns how many times p is currently loaded.
func (m *Manager) Loads(p *Plugin) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return p.loads
}

// Plugins returns the loaded plugins in load order.
func (m *Manager) Plugins() []*Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Plugin, len(m.order))
	copy(out, m.order)
	return out
}

// Close unloads every plugin, newest first, regardless of load counts.
// Plugins that fail with IN_USE stay loaded; Close can be retried.
func (m *Manager) Close() error {
	plugins := m.Plugins()

	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := m.unload("Manager.Close", plugins[i], true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
