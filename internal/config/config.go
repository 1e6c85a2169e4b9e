// Package config holds the speect configuration: logging, the plugin
// loader and the object runtime limits.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/speect-go/internal/pluginmanager"
	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

// AppName is used for config, cache and data directories.
const AppName = "speect"

// Config represents the speect configuration
type Config struct {
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Plugins PluginsConfig `yaml:"plugins" mapstructure:"plugins"`
	Objects ObjectsConfig `yaml:"objects" mapstructure:"objects"`
}

// LogConfig holds logging settings
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" mapstructure:"level"`

	// File receives the log (defaults to speect.log in the user cache dir)
	File string `yaml:"file" mapstructure:"file"`
}

// PluginsConfig holds plugin loader settings
type PluginsConfig struct {
	// Directory bare plugin names are resolved in
	Path string `yaml:"path" mapstructure:"path"`

	// Extension appended to plugin names without one
	Extension string `yaml:"extension" mapstructure:"extension"`

	// Plugins loaded at engine start
	Autoload []string `yaml:"autoload" mapstructure:"autoload"`

	// Directory compressed plugins are extracted to
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`

	// Upper bound on the size of CacheDir in bytes, 0 for none
	CacheMaxBytes int64 `yaml:"cache_max_bytes" mapstructure:"cache_max_bytes"`

	// Follow the plugin directory for new and removed plugins
	Watch bool `yaml:"watch" mapstructure:"watch"`

	// How often unloads blocked by live objects are retried
	RetryInterval time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
}

// ObjectsConfig holds object runtime limits
type ObjectsConfig struct {
	// Upper bound on the summed size of live objects, 0 for none
	MaxLiveBytes int64 `yaml:"max_live_bytes" mapstructure:"max_live_bytes"`

	// Exit the process when MaxLiveBytes is exceeded
	FatalOnAllocFailure bool `yaml:"fatal_on_alloc_failure" mapstructure:"fatal_on_alloc_failure"`
}

// Default returns the default configuration
func Default() *Config {
	scope := gap.NewScope(gap.User, AppName)

	pluginDir := filepath.Join(".", "plugins")
	if p, err := scope.DataPath("plugins"); err == nil {
		pluginDir = p
	}
	cacheDir := filepath.Join(os.TempDir(), AppName, "plugins")
	if dir, err := scope.CacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "plugins")
	}

	return &Config{
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		Plugins: PluginsConfig{
			Path:          pluginDir,
			Extension:     pluginmanager.DefaultExtension,
			Autoload:      []string{},
			CacheDir:      cacheDir,
			CacheMaxBytes: 0,
			Watch:         false,
			RetryInterval: pluginmanager.DefaultRetryInterval,
		},
		Objects: ObjectsConfig{
			MaxLiveBytes:        0,
			FatalOnAllocFailure: false,
		},
	}
}

// SetDefaults registers the default configuration with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("plugins.path", d.Plugins.Path)
	v.SetDefault("plugins.extension", d.Plugins.Extension)
	v.SetDefault("plugins.autoload", d.Plugins.Autoload)
	v.SetDefault("plugins.cache_dir", d.Plugins.CacheDir)
	v.SetDefault("plugins.cache_max_bytes", d.Plugins.CacheMaxBytes)
	v.SetDefault("plugins.watch", d.Plugins.Watch)
	v.SetDefault("plugins.retry_interval", d.Plugins.RetryInterval)
	v.SetDefault("objects.max_live_bytes", d.Objects.MaxLiveBytes)
	v.SetDefault("objects.fatal_on_alloc_failure", d.Objects.FatalOnAllocFailure)
}

// Load builds the configuration from v, applies the SPEECT_* environment
// overrides and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Log.File, &c.Plugins.Path, &c.Plugins.CacheDir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	if c.Plugins.Path == "" {
		return fmt.Errorf("plugins.path is empty")
	}
	if !strings.HasPrefix(c.Plugins.Extension, ".") || len(c.Plugins.Extension) < 2 {
		return fmt.Errorf("plugins.extension %q must start with a dot", c.Plugins.Extension)
	}
	if c.Plugins.RetryInterval <= 0 {
		return fmt.Errorf("plugins.retry_interval must be positive, got %s", c.Plugins.RetryInterval)
	}
	if c.Plugins.CacheMaxBytes < 0 {
		return fmt.Errorf("plugins.cache_max_bytes must not be negative, got %d", c.Plugins.CacheMaxBytes)
	}
	if c.Objects.MaxLiveBytes < 0 {
		return fmt.Errorf("objects.max_live_bytes must not be negative, got %d", c.Objects.MaxLiveBytes)
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// RegistryConfig returns the object registry settings.
func (c *Config) RegistryConfig(logger *log.Logger) *objsys.RegistryConfig {
	return &objsys.RegistryConfig{
		MaxLiveBytes:        c.Objects.MaxLiveBytes,
		FatalOnAllocFailure: c.Objects.FatalOnAllocFailure,
		Logger:              logger,
	}
}

// ManagerConfig returns the plugin manager settings.
func (c *Config) ManagerConfig(logger *log.Logger) *pluginmanager.Config {
	return &pluginmanager.Config{
		SearchPath:    c.Plugins.Path,
		Extension:     c.Plugins.Extension,
		CacheDir:      c.Plugins.CacheDir,
		CacheMaxBytes: c.Plugins.CacheMaxBytes,
		Logger:        logger,
	}
}

// Marshal returns the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Save writes the configuration to path as YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info("Saved configuration", "path", path)
	return nil
}

// Dirs returns the directories searched for speect.yml, most specific
// first: $SPEECT_CONFIG_HOME, $XDG_CONFIG_HOME/speect, then the platform
// config dirs.
func Dirs() ([]string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}

	if c := os.Getenv("SPEECT_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	return dirs, nil
}
