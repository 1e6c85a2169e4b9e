package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

func loadYAML(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speect.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadYAML(t, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d := Default()
	if cfg.Log.Level != "info" {
		t.Errorf("log level: got %s", cfg.Log.Level)
	}
	if cfg.Plugins.Extension != ".spi" {
		t.Errorf("extension: got %s", cfg.Plugins.Extension)
	}
	if cfg.Plugins.Path != d.Plugins.Path {
		t.Errorf("plugin path: got %s, want %s", cfg.Plugins.Path, d.Plugins.Path)
	}
	if cfg.Plugins.RetryInterval != 5*time.Second {
		t.Errorf("retry interval: got %s", cfg.Plugins.RetryInterval)
	}
	if len(cfg.Plugins.Autoload) != 0 {
		t.Errorf("autoload: got %v", cfg.Plugins.Autoload)
	}
}

func TestLoad_DefaultYAML(t *testing.T) {
	cfg, err := loadYAML(t, DefaultYAML)
	if err != nil {
		t.Fatalf("Load of the default file failed: %v", err)
	}
	if cfg.Plugins.RetryInterval != 5*time.Second || cfg.Objects.MaxLiveBytes != 0 {
		t.Errorf("unexpected values: %+v", cfg)
	}
}

func TestLoad_Values(t *testing.T) {
	cfg, err := loadYAML(t, `
log:
  level: debug
  file: /tmp/speect-test.log
plugins:
  path: ~/speect/plugins
  extension: .so
  autoload: [shapes, voices]
  watch: true
  retry_interval: 250ms
  cache_max_bytes: 1048576
objects:
  max_live_bytes: 4096
  fatal_on_alloc_failure: true
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel() != log.DebugLevel {
		t.Errorf("log level: got %s", cfg.LogLevel())
	}
	if strings.HasPrefix(cfg.Plugins.Path, "~") || !strings.HasSuffix(cfg.Plugins.Path, filepath.Join("speect", "plugins")) {
		t.Errorf("plugin path not expanded: %s", cfg.Plugins.Path)
	}
	if strings.Join(cfg.Plugins.Autoload, ",") != "shapes,voices" {
		t.Errorf("autoload: got %v", cfg.Plugins.Autoload)
	}
	if !cfg.Plugins.Watch || cfg.Plugins.RetryInterval != 250*time.Millisecond {
		t.Errorf("watch settings: got %+v", cfg.Plugins)
	}

	rc := cfg.RegistryConfig(nil)
	if rc.MaxLiveBytes != 4096 || !rc.FatalOnAllocFailure {
		t.Errorf("registry config: got %+v", rc)
	}
	mc := cfg.ManagerConfig(nil)
	if mc.Extension != ".so" || mc.SearchPath != cfg.Plugins.Path || mc.CacheMaxBytes != 1<<20 {
		t.Errorf("manager config: got %+v", mc)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"empty path", func(c *Config) { c.Plugins.Path = "" }, "plugins.path"},
		{"extension without dot", func(c *Config) { c.Plugins.Extension = "spi" }, "must start with a dot"},
		{"bare dot", func(c *Config) { c.Plugins.Extension = "." }, "must start with a dot"},
		{"zero retry", func(c *Config) { c.Plugins.RetryInterval = 0 }, "retry_interval"},
		{"negative budget", func(c *Config) { c.Objects.MaxLiveBytes = -1 }, "max_live_bytes"},
		{"negative cache bound", func(c *Config) { c.Plugins.CacheMaxBytes = -1 }, "cache_max_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("got %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SPEECT_DEBUG", "true")
	t.Setenv("SPEECT_PLUGIN_PATH", "/srv/plugins")
	t.Setenv("SPEECT_LOG_FILE", "/var/log/speect.log")
	t.Setenv("SPEECT_AUTOLOAD", "a,b")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level: got %s", cfg.Log.Level)
	}
	if cfg.Plugins.Path != "/srv/plugins" || cfg.Log.File != "/var/log/speect.log" {
		t.Errorf("paths: got %s, %s", cfg.Plugins.Path, cfg.Log.File)
	}
	if strings.Join(cfg.Plugins.Autoload, ",") != "a,b" {
		t.Errorf("autoload: got %v", cfg.Plugins.Autoload)
	}

	t.Setenv("SPEECT_DEBUG", "maybe")
	if err := Default().ApplyEnv(); err == nil {
		t.Error("ApplyEnv accepted an invalid bool")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Plugins.Autoload = []string{"shapes"}
	cfg.Objects.MaxLiveBytes = 1 << 20

	path := filepath.Join(t.TempDir(), "nested", "speect.yml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}
	got, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Objects.MaxLiveBytes != 1<<20 || strings.Join(got.Plugins.Autoload, ",") != "shapes" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Plugins.RetryInterval != cfg.Plugins.RetryInterval {
		t.Errorf("retry interval: got %s, want %s", got.Plugins.RetryInterval, cfg.Plugins.RetryInterval)
	}
}

func TestDirs(t *testing.T) {
	t.Setenv("SPEECT_CONFIG_HOME", "/etc/speect-custom")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	dirs, err := Dirs()
	if err != nil {
		t.Fatalf("Dirs failed: %v", err)
	}
	if len(dirs) < 2 || dirs[0] != "/etc/speect-custom" || dirs[1] != filepath.Join("/xdg", "speect") {
		t.Errorf("Dirs: got %v", dirs)
	}
}
