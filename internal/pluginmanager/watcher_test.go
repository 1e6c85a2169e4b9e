package pluginmanager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/speect-go/pkg/objsys"
	"github.com/dgnsrekt/speect-go/pkg/spi"
)

// dirOpener opens any file and serves a plugin with one class named after
// the file, e.g. alpha.spi registers SAlpha.
func dirOpener() OpenerFunc {
	return func(path string) (Library, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		class := "S" + strings.ToUpper(base[:1]) + base[1:]
		return pluginLib(&spi.Params{
			Name:    base,
			ABI:     objsys.ABIVersion,
			Classes: []*objsys.Class{{Name: objsys.RootClassName + ":" + class}},
		}), nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_LoadAndUnload(t *testing.T) {
	m, reg := newTestManager(t, dirOpener())
	dir := m.SearchPath()

	// present before the watcher starts
	if err := os.WriteFile(filepath.Join(dir, "alpha.spi"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	w, err := NewWatcher(m, dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	}()

	waitFor(t, "existing plugin to load", func() bool { return reg.IsRegistered("SAlpha") })

	if err := os.WriteFile(filepath.Join(dir, "beta.spi"), []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	waitFor(t, "new plugin to load", func() bool { return reg.IsRegistered("SBeta") })

	if got := len(w.Loaded()); got != 2 {
		t.Errorf("Loaded: got %d, want 2", got)
	}

	if err := os.Remove(filepath.Join(dir, "alpha.spi")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	waitFor(t, "removed plugin to unload", func() bool { return !reg.IsRegistered("SAlpha") })
	if reg.IsRegistered("SNotes") {
		t.Error("non-plugin file was loaded")
	}
}

func TestWatcher_DeferredUnload(t *testing.T) {
	m, reg := newTestManager(t, dirOpener())
	dir := m.SearchPath()

	file := filepath.Join(dir, "gamma.spi")
	if err := os.WriteFile(file, []byte("g"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	w, err := NewWatcher(m, dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "plugin to load", func() bool { return reg.IsRegistered("SGamma") })

	obj, err := reg.New("SGamma")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := os.Remove(file); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	waitFor(t, "unload to be deferred", func() bool { return len(w.Pending()) == 1 })
	if !reg.IsRegistered("SGamma") {
		t.Fatal("class unregistered while in use")
	}

	if err := obj.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	waitFor(t, "deferred unload", func() bool { return !reg.IsRegistered("SGamma") })
	if n := len(w.Pending()); n != 0 {
		t.Errorf("Pending after unload: %d", n)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	m, _ := newTestManager(t, dirOpener())
	if _, err := NewWatcher(m, "", 0); err == nil {
		t.Error("NewWatcher accepted an empty directory")
	}

	w, err := NewWatcher(m, m.SearchPath(), 0)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if w.retry != DefaultRetryInterval {
		t.Errorf("retry: got %s, want %s", w.retry, DefaultRetryInterval)
	}
}
