package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are settings taken from the environment. They win over the
// config file.
type EnvOverrides struct {
	Debug      bool     `env:"SPEECT_DEBUG"`
	PluginPath string   `env:"SPEECT_PLUGIN_PATH"`
	LogFile    string   `env:"SPEECT_LOG_FILE"`
	Autoload   []string `env:"SPEECT_AUTOLOAD" envSeparator:","`
}

// ApplyEnv applies the SPEECT_* environment overrides.
func (c *Config) ApplyEnv() error {
	o, err := env.ParseAs[EnvOverrides]()
	if err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if o.Debug {
		c.Log.Level = "debug"
	}
	if o.PluginPath != "" {
		c.Plugins.Path = o.PluginPath
	}
	if o.LogFile != "" {
		c.Log.File = o.LogFile
	}
	if len(o.Autoload) > 0 {
		c.Plugins.Autoload = o.Autoload
	}
	return nil
}

// DefaultYAML is written when no config file exists yet.
const DefaultYAML = `# logging
log:
  # debug, info, warn or error
  level: "info"
  # log file (default: speect.log in the user cache directory)
  # file: "~/.cache/speect/speect.log"

# plugin loader
plugins:
  # directory bare plugin names are looked up in
  # path: "~/.local/share/speect/plugins"
  # extension added to plugin names given without one
  extension: ".spi"
  # plugins loaded at startup
  autoload: []
  # where compressed (.zst) plugins are extracted
  # cache_dir: "~/.cache/speect/plugins"
  # upper bound on the size of the extraction cache in bytes (0: no limit)
  cache_max_bytes: 0
  # load and unload plugins as files appear in the plugin directory
  watch: false
  # retry interval for unloads blocked by live objects
  retry_interval: "5s"

# object runtime
objects:
  # upper bound on the size of all live objects in bytes (0: no limit)
  max_live_bytes: 0
  # exit instead of returning an error when the bound is hit
  fatal_on_alloc_failure: false
`
