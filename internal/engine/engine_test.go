package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speect-go/internal/config"
	"github.com/dgnsrekt/speect-go/internal/pluginmanager"
	"github.com/dgnsrekt/speect-go/pkg/objsys"
	"github.com/dgnsrekt/speect-go/pkg/spi"
)

type testLibrary struct {
	params *spi.Params
	mu     sync.Mutex
	closed bool
}

func (l *testLibrary) Lookup(symbol string) (any, error) {
	if symbol != spi.EntryPoint {
		return nil, fmt.Errorf("symbol %s not found", symbol)
	}
	return func(objsys.Version) (*spi.Params, error) { return l.params, nil }, nil
}

func (l *testLibrary) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *testLibrary) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func testOpener(libs map[string]*testLibrary) pluginmanager.Opener {
	return pluginmanager.OpenerFunc(func(path string) (pluginmanager.Library, error) {
		lib, ok := libs[filepath.Base(path)]
		if !ok {
			return nil, fmt.Errorf("open %s: no such file", path)
		}
		return lib, nil
	})
}

func testLibs() map[string]*testLibrary {
	return map[string]*testLibrary{
		"shapes.spi": {params: &spi.Params{
			Name:    "shapes",
			ABI:     objsys.ABIVersion,
			Classes: []*objsys.Class{{Name: "SObject:SShape", Size: 8}},
		}},
		"circles.spi": {params: &spi.Params{
			Name:    "circles",
			ABI:     objsys.ABIVersion,
			Classes: []*objsys.Class{{Name: "SObject:SShape:SCircle", Size: 16}},
		}},
	}
}

func testConfig(t *testing.T, autoload ...string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Plugins.Path = t.TempDir()
	cfg.Plugins.CacheDir = filepath.Join(cfg.Plugins.Path, "cache")
	cfg.Plugins.Autoload = autoload
	return cfg
}

func quietLogger() Option {
	return WithLogger(log.New(io.Discard))
}

func TestNew_Builtins(t *testing.T) {
	e, err := New(context.Background(), testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for _, name := range []string{"SObject", "SInt", "SFloat", "SString", "SVoid"} {
		if !e.Registry().IsRegistered(name) {
			t.Errorf("%s not registered", name)
		}
	}
	if e.Watcher() != nil {
		t.Error("watcher started without watch enabled")
	}

	if err := e.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if n := len(e.Registry().Names()); n != 0 {
		t.Errorf("classes after Quit: %d", n)
	}
	if err := e.Quit(); err != nil {
		t.Errorf("second Quit failed: %v", err)
	}
}

func TestNew_AutoloadDependentPlugins(t *testing.T) {
	libs := testLibs()
	// circles needs SShape from shapes, listed after it
	e, err := New(context.Background(), testConfig(t, "circles", "shapes"),
		quietLogger(), WithOpener(testOpener(libs)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if !e.Registry().IsRegistered("SCircle") || !e.Registry().IsRegistered("SShape") {
		t.Fatalf("autoloaded classes missing: %v", e.Registry().Names())
	}
	if got := len(e.Plugins().Plugins()); got != 2 {
		t.Errorf("plugins loaded: got %d, want 2", got)
	}

	if err := e.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	for name, lib := range libs {
		if !lib.isClosed() {
			t.Errorf("%s not closed by Quit", name)
		}
	}
}

func TestNew_AutoloadAllOrNothing(t *testing.T) {
	libs := testLibs()
	_, err := New(context.Background(), testConfig(t, "shapes", "missing"),
		quietLogger(), WithOpener(testOpener(libs)))
	if !errors.Is(err, objsys.ErrIO) {
		t.Fatalf("New: got %v, want IO_ERROR", err)
	}
	if !libs["shapes.spi"].isClosed() {
		t.Error("loaded plugin not rolled back")
	}
}

func TestNew_AutoloadUnresolvableParent(t *testing.T) {
	libs := testLibs()
	_, err := New(context.Background(), testConfig(t, "circles"),
		quietLogger(), WithOpener(testOpener(libs)))
	if !errors.Is(err, objsys.ErrNotFound) {
		t.Fatalf("New: got %v, want NOT_FOUND", err)
	}
}

func TestQuit_RetryAfterInUse(t *testing.T) {
	libs := testLibs()
	e, err := New(context.Background(), testConfig(t, "shapes"),
		quietLogger(), WithOpener(testOpener(libs)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	shape, err := e.Registry().New("SShape")
	if err != nil {
		t.Fatalf("New SShape failed: %v", err)
	}
	n, err := objsys.NewInt(e.Registry(), 3)
	if err != nil {
		t.Fatalf("NewInt failed: %v", err)
	}

	if err := e.Quit(); !errors.Is(err, objsys.ErrInUse) {
		t.Fatalf("Quit with live objects: got %v, want IN_USE", err)
	}
	if !e.Registry().IsRegistered("SShape") {
		t.Error("plugin classes removed by failed Quit")
	}

	_ = shape.Release()
	if err := e.Quit(); !errors.Is(err, objsys.ErrInUse) {
		t.Fatalf("Quit with live SInt: got %v, want IN_USE", err)
	}

	_ = n.Release()
	if err := e.Quit(); err != nil {
		t.Fatalf("Quit after release failed: %v", err)
	}
}

func TestNew_Watch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plugins.Watch = true

	e, err := New(context.Background(), cfg, quietLogger(), WithOpener(testOpener(testLibs())))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if e.Watcher() == nil {
		t.Fatal("watcher not started")
	}
	if e.Watcher().Dir() != cfg.Plugins.Path {
		t.Errorf("watch dir: got %s, want %s", e.Watcher().Dir(), cfg.Plugins.Path)
	}
	if err := e.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
}
