package pluginmanager

import (
	"time"

	"github.com/dgnsrekt/speect-go/pkg/objsys"
	"github.com/dgnsrekt/speect-go/pkg/spi"
)

// Plugin is a loaded plugin. The same handle is returned for every Load of
// the same path until the last matching Unload.
type Plugin struct {
	path     string // resolved path, the key plugins are tracked by
	openPath string // path handed to the opener, differs for compressed plugins
	cacheKey string // plugin cache entry of a compressed plugin
	lib      Library
	params   *spi.Params
	classes  []string
	loadedAt time.Time

	loads  int  // guarded by Manager.mu
	failed bool // Register failed and its classes could not be rolled back
}

// Path returns the resolved plugin path.
func (p *Plugin) Path() string { return p.path }

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.params.Name }

// Description returns the plugin description.
func (p *Plugin) Description() string { return p.params.Description }

// Version returns the plugin version.
func (p *Plugin) Version() objsys.Version { return p.params.Version }

// ABI returns the runtime ABI the plugin was built against.
func (p *Plugin) ABI() objsys.Version { return p.params.ABI }

// Classes returns the names of the classes the plugin registered.
func (p *Plugin) Classes() []string {
	out := make([]string, len(p.classes))
	copy(out, p.classes)
	return out
}

// Failed reports whether the plugin is only tracked because a failed load
// left instances of its classes behind. Unload finishes the rollback once
// they are released.
func (p *Plugin) Failed() bool { return p.failed }

// LoadedAt returns when the plugin was first loaded.
func (p *Plugin) LoadedAt() time.Time { return p.loadedAt }
