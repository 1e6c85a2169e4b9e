package objsys

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(&RegistryConfig{Logger: log.New(io.Discard)})
}

func shapeClasses() (shape, circle, rect *Class) {
	shape = &Class{Name: "SObject:SShape", Size: 8}
	circle = &Class{Name: "SObject:SShape:SCircle", Size: 16}
	rect = &Class{Name: "SObject:SShape:SRectangle", Size: 24}
	return shape, circle, rect
}

func TestRegistry_RootRegistered(t *testing.T) {
	reg := newTestRegistry(t)

	cls, ok := reg.Lookup(RootClassName)
	if !ok {
		t.Fatal("root class not registered")
	}
	if cls != ObjectClass {
		t.Errorf("root descriptor mismatch: got %p, want %p", cls, ObjectClass)
	}
	if err := reg.Unregister(RootClassName); CodeOf(err) != ErrorCodeArg {
		t.Errorf("unregister root: got %v, want ARG_ERROR", err)
	}
}

func TestRegistry_LookupIdentity(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, _ := shapeClasses()

	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, ok := reg.Lookup("SCircle")
		if !ok || got != circle {
			t.Fatalf("Lookup #%d: got %p, %v, want %p", i, got, ok, circle)
		}
	}

	if err := reg.Unregister("SCircle"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if _, ok := reg.Lookup("SCircle"); ok {
		t.Error("class still found after unregister")
	}
	if reg.IsRegistered("SCircle") {
		t.Error("IsRegistered true after unregister")
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	tests := []struct {
		name string
		cls  *Class
		want ErrorCode
	}{
		{"nil class", nil, ErrorCodeArg},
		{"empty name", &Class{}, ErrorCodeArg},
		{"empty segment", &Class{Name: "SObject::SFoo"}, ErrorCodeArg},
		{"padded segment", &Class{Name: "SObject: SFoo"}, ErrorCodeArg},
		{"not rooted", &Class{Name: "SFoo"}, ErrorCodeArg},
		{"second root", &Class{Name: "SObject"}, ErrorCodeDuplicateName},
		{"missing parent", &Class{Name: "SObject:SMissing:SFoo"}, ErrorCodeNotFound},
		{"duplicate", &Class{Name: "SObject:SShape"}, ErrorCodeDuplicateName},
		{"chain mismatch", &Class{Name: "SObject:SCircle:SFoo", Size: 32}, ErrorCodeArg},
		{"size below parent", &Class{Name: "SObject:SShape:SFoo", Size: 4}, ErrorCodeArg},
		{"foreign parent descriptor", &Class{
			Name:   "SObject:SShape:SFoo",
			Parent: &Class{Name: "SObject:SShape", Size: 8},
			Size:   8,
		}, ErrorCodeArg},
		{"parent chain mismatch", &Class{
			Name:   "SObject:SFoo",
			Parent: &Class{Name: "SObject:SShape"},
		}, ErrorCodeArg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			shape, circle, _ := shapeClasses()
			if err := reg.RegisterAll(shape, circle); err != nil {
				t.Fatalf("RegisterAll failed: %v", err)
			}
			before := reg.Names()

			err := reg.Register(tt.cls)
			if CodeOf(err) != tt.want {
				t.Fatalf("Register: got %v, want %s", err, tt.want)
			}
			if after := reg.Names(); strings.Join(after, ",") != strings.Join(before, ",") {
				t.Errorf("registry changed on failure: got %v, want %v", after, before)
			}
		})
	}
}

func TestRegistry_ExplicitParent(t *testing.T) {
	reg := newTestRegistry(t)
	shape := &Class{Name: "SObject:SShape", Parent: ObjectClass, Size: 8}
	circle := &Class{Name: "SObject:SShape:SCircle", Parent: shape, Size: 16}

	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	if !reg.IsRegistered("SCircle") {
		t.Error("SCircle not registered")
	}
}

func TestRegistry_RegisterAllRollback(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, _ := shapeClasses()
	dup := &Class{Name: "SObject:SShape", Size: 8}

	err := reg.RegisterAll(shape, circle, dup)
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("RegisterAll: got %v, want duplicate name", err)
	}
	for _, name := range []string{"SShape", "SCircle"} {
		if reg.IsRegistered(name) {
			t.Errorf("%s registered after failed batch", name)
		}
	}

	// the rolled back parent must not count the rolled back child
	if err := reg.Register(shape); err != nil {
		t.Fatalf("Register after rollback failed: %v", err)
	}
	if err := reg.Unregister("SShape"); err != nil {
		t.Errorf("Unregister after rollback failed: %v", err)
	}
}

func TestRegistry_UnregisterParentWithChildren(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, rect := shapeClasses()
	if err := reg.RegisterAll(shape, circle, rect); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	if err := reg.Unregister("SShape"); !errors.Is(err, ErrInUse) {
		t.Fatalf("Unregister parent: got %v, want IN_USE", err)
	}

	// removing the whole subtree at once is allowed, in any order
	if err := reg.UnregisterAll("SShape", "SCircle", "SRectangle"); err != nil {
		t.Fatalf("UnregisterAll failed: %v", err)
	}
	if got := reg.Names(); len(got) != 1 || got[0] != RootClassName {
		t.Errorf("Names after unregister: got %v", got)
	}
}

func TestRegistry_UnregisterAllIsAtomic(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, rect := shapeClasses()
	if err := reg.RegisterAll(shape, circle, rect); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	obj, err := reg.New("SRectangle")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = reg.UnregisterAll("SCircle", "SRectangle", "SShape")
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("UnregisterAll: got %v, want IN_USE", err)
	}
	for _, name := range []string{"SShape", "SCircle", "SRectangle"} {
		if !reg.IsRegistered(name) {
			t.Errorf("%s removed by failed batch", name)
		}
	}

	if err := reg.UnregisterAll("SCircle", "SMissing"); CodeOf(err) != ErrorCodeNotFound {
		t.Errorf("UnregisterAll with missing: got %v, want NOT_FOUND", err)
	}
	if !reg.IsRegistered("SCircle") {
		t.Error("SCircle removed by failed batch")
	}

	if err := obj.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := reg.UnregisterAll("SCircle", "SRectangle", "SShape"); err != nil {
		t.Errorf("UnregisterAll after release failed: %v", err)
	}
}

func TestRegistry_UnregisterInUse(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, _ := shapeClasses()
	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	obj, err := reg.New("SCircle")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := reg.Live("SShape"); got != 1 {
		t.Errorf("Live(SShape): got %d, want 1", got)
	}

	err = reg.Unregister("SCircle")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != ErrorCodeInUse {
		t.Fatalf("Unregister live class: got %v, want IN_USE", err)
	}
	if rerr.Context["live"] != int64(1) {
		t.Errorf("live context: got %v, want 1", rerr.Context["live"])
	}

	if err := obj.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := reg.Unregister("SCircle"); err != nil {
		t.Errorf("Unregister after release failed: %v", err)
	}
}

func TestRegistry_FindSuggestion(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, _ := shapeClasses()
	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	if _, err := reg.Find("SCircle"); err != nil {
		t.Errorf("Find existing failed: %v", err)
	}

	_, err := reg.Find("SCirc")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != ErrorCodeNotFound {
		t.Fatalf("Find: got %v, want NOT_FOUND", err)
	}
	if rerr.Context["suggestion"] != "SCircle" {
		t.Errorf("suggestion: got %v, want SCircle", rerr.Context["suggestion"])
	}
	if !strings.Contains(err.Error(), "did you mean 'SCircle'") {
		t.Errorf("message lacks suggestion: %s", err)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := newTestRegistry(t)
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}

	want := []string{"SFloat", "SInt", "SObject", "SString", "SVoid"}
	got := reg.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names: got %v, want %v", got, want)
	}
}

func TestRegistry_Clear(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, _ := shapeClasses()
	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	obj, err := reg.New("SCircle")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = reg.Clear()
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("Clear with live object: got %v, want IN_USE", err)
	}
	if !reg.IsRegistered("SCircle") {
		t.Error("Clear removed classes on failure")
	}

	if err := obj.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := reg.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := reg.Clear(); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
	if n := len(reg.Names()); n != 0 {
		t.Errorf("classes after Clear: %d", n)
	}
	if err := reg.Register(shape); CodeOf(err) != ErrorCodeArg {
		t.Errorf("Register after Clear: got %v, want ARG_ERROR", err)
	}
}

func TestRegistry_Stats(t *testing.T) {
	reg := newTestRegistry(t)
	shape, circle, _ := shapeClasses()
	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	a, _ := reg.New("SCircle")
	b, _ := reg.New("SShape")

	stats := reg.Stats()
	if stats.Classes != 3 || stats.LiveObjects != 2 || stats.LiveBytes != 24 || stats.Allocations != 2 {
		t.Errorf("Stats: got %+v", stats)
	}

	_ = a.Release()
	_ = b.Release()

	stats = reg.Stats()
	if stats.LiveObjects != 0 || stats.LiveBytes != 0 || stats.Frees != 2 {
		t.Errorf("Stats after release: got %+v", stats)
	}
	if s := stats.String(); !strings.Contains(s, "3 classes") {
		t.Errorf("Stats.String: got %q", s)
	}
}

func TestRegistry_AllocBudget(t *testing.T) {
	reg := NewRegistry(&RegistryConfig{MaxLiveBytes: 20, Logger: log.New(io.Discard)})
	shape, circle, _ := shapeClasses()
	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	obj, err := reg.New("SCircle")
	if err != nil {
		t.Fatalf("New within budget failed: %v", err)
	}

	_, err = reg.New("SCircle")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != ErrorCodeAllocFailure {
		t.Fatalf("New over budget: got %v, want ALLOC_FAILURE", err)
	}
	if rerr.IsFatal() {
		t.Error("non-fatal registry returned a fatal error")
	}
	if got := reg.Live("SCircle"); got != 1 {
		t.Errorf("failed allocation counted as live: %d", got)
	}

	_ = obj.Release()
	if _, err := reg.New("SCircle"); err != nil {
		t.Errorf("New after release failed: %v", err)
	}
}

func TestRegistry_FatalAllocFailure(t *testing.T) {
	var exitCode int
	origExit := osExit
	osExit = func(code int) { exitCode = code }
	defer func() { osExit = origExit }()

	reg := NewRegistry(&RegistryConfig{
		MaxLiveBytes:        8,
		FatalOnAllocFailure: true,
		Logger:              log.New(io.Discard),
	})
	_, circle, _ := shapeClasses()
	shape := &Class{Name: "SObject:SShape", Size: 8}
	if err := reg.RegisterAll(shape, circle); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	_, err := reg.New("SCircle")
	var rerr *Error
	if !errors.As(err, &rerr) || !rerr.IsFatal() {
		t.Fatalf("New: got %v, want fatal ALLOC_FAILURE", err)
	}
	if exitCode != 1 {
		t.Errorf("exit code: got %d, want 1", exitCode)
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	reg := newTestRegistry(t)
	names := []string{"SA", "SB", "SC", "SD", "SE", "SF", "SG", "SH"}

	var wg sync.WaitGroup
	for _, name := range names {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_ = reg.Register(&Class{Name: RootClassName + ":" + name})
				_, _ = reg.Find(name)
			}(name)
		}
	}
	wg.Wait()

	if got := len(reg.Names()); got != len(names)+1 {
		t.Errorf("registered classes: got %d, want %d", got, len(names)+1)
	}
}
