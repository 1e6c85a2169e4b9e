package objsys

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"
)

// osExit is replaced in tests.
var osExit = os.Exit

// RegistryConfig holds configuration for a Registry.
type RegistryConfig struct {
	// MaxLiveBytes bounds the summed declared size of all live objects.
	// Zero means no limit.
	MaxLiveBytes int64

	// FatalOnAllocFailure makes an exhausted MaxLiveBytes budget terminate
	// the process instead of returning ALLOC_FAILURE.
	FatalOnAllocFailure bool

	// Logger receives registry events. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultRegistryConfig returns the default registry configuration
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		MaxLiveBytes:        0,
		FatalOnAllocFailure: false,
		Logger:              log.Default(),
	}
}

// classEntry is the registry's view of one class.
type classEntry struct {
	cls      *Class
	hier     []*classEntry // root first, ends with this entry
	live     atomic.Int64  // live instances of this class or a subclass
	children int           // registered direct subclasses, guarded by Registry.mu
}

// RegistryStats holds registry counters.
type RegistryStats struct {
	Classes     int
	LiveObjects int64
	LiveBytes   int64
	Allocations int64
	Frees       int64
}

// String returns a one-line summary of the stats.
func (s RegistryStats) String() string {
	return fmt.Sprintf("%d classes, %s live objects (%s), %s allocations, %s frees",
		s.Classes,
		humanize.Comma(s.LiveObjects),
		humanize.Bytes(uint64(s.LiveBytes)),
		humanize.Comma(s.Allocations),
		humanize.Comma(s.Frees))
}

// Registry is a name-keyed table of class descriptors. It is safe for
// concurrent use; its lock is never held while class hooks run.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*classEntry
	closed  bool

	config *RegistryConfig
	logger *log.Logger

	liveObjects atomic.Int64
	liveBytes   atomic.Int64
	allocs      atomic.Int64
	frees       atomic.Int64
}

// NewRegistry creates a registry holding only the root class.
func NewRegistry(config *RegistryConfig) *Registry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	r := &Registry{
		classes: make(map[string]*classEntry),
		config:  config,
		logger:  logger,
	}

	root := &classEntry{cls: ObjectClass}
	root.hier = []*classEntry{root}
	r.classes[RootClassName] = root

	return r
}

// Register adds a class to the registry.
func (r *Registry) Register(cls *Class) error {
	return r.RegisterAll(cls)
}

// RegisterAll adds classes in order as one transaction: either every class
// is registered or none is. Later classes may derive from earlier ones.
func (r *Registry) RegisterAll(classes ...*Class) error {
	const op = "Registry.Register"

	for _, cls := range classes {
		if err := cls.validate(op); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errorf(ErrorCodeArg, op, "", "registry is closed")
	}

	added := make([]string, 0, len(classes))
	for _, cls := range classes {
		if err := r.addLocked(op, cls); err != nil {
			for i := len(added) - 1; i >= 0; i-- {
				r.removeLocked(added[i])
			}
			return err
		}
		added = append(added, cls.ClassName())
	}

	for _, name := range added {
		r.logger.Debug("class registered", "class", name, "size", r.classes[name].cls.Size)
	}
	return nil
}

func (r *Registry) addLocked(op string, cls *Class) error {
	name := cls.ClassName()
	if _, exists := r.classes[name]; exists {
		return errorf(ErrorCodeDuplicateName, op, name,
			"failed to add class '%s', class names must be unique", name)
	}

	ancestry := cls.Ancestry()
	if ancestry[0] != RootClassName {
		return errorf(ErrorCodeArg, op, name,
			"inheritance chain %q must start at %s", cls.Name, RootClassName)
	}
	if len(ancestry) == 1 {
		// only the built-in root may be a root
		return errorf(ErrorCodeDuplicateName, op, name, "root class already registered")
	}

	parentName := cls.ParentName()
	parent, ok := r.classes[parentName]
	if !ok {
		return errorf(ErrorCodeNotFound, op, name, "parent class '%s' is not registered", parentName)
	}
	if parent.cls.Name+hierarchySep+name != cls.Name {
		return errorf(ErrorCodeArg, op, name,
			"chain %q does not match registered parent chain %q", cls.Name, parent.cls.Name)
	}
	if cls.Parent != nil && cls.Parent != parent.cls {
		return errorf(ErrorCodeArg, op, name,
			"parent descriptor differs from registered class '%s'", parentName)
	}
	if cls.Size < parent.cls.Size {
		return errorf(ErrorCodeArg, op, name,
			"size %d smaller than parent size %d", cls.Size, parent.cls.Size)
	}

	entry := &classEntry{cls: cls}
	entry.hier = make([]*classEntry, len(parent.hier)+1)
	copy(entry.hier, parent.hier)
	entry.hier[len(parent.hier)] = entry

	parent.children++
	r.classes[name] = entry
	return nil
}

func (r *Registry) removeLocked(name string) {
	entry, ok := r.classes[name]
	if !ok {
		return
	}
	if n := len(entry.hier); n > 1 {
		entry.hier[n-2].children--
	}
	delete(r.classes, name)
}

// Unregister removes a class. It fails with IN_USE while live instances of
// the class (or of a subclass) exist, or while subclasses are registered.
func (r *Registry) Unregister(name string) error {
	return r.UnregisterAll(name)
}

// UnregisterAll removes classes as one transaction: every name is checked
// before anything is removed.
func (r *Registry) UnregisterAll(names ...string) error {
	const op = "Registry.Unregister"

	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]*classEntry, len(names))
	for _, name := range names {
		if name == "" {
			return errorf(ErrorCodeArg, op, "", "class name is empty")
		}
		if name == RootClassName && !r.closed {
			return errorf(ErrorCodeArg, op, name, "the root class cannot be unregistered")
		}
		entry, ok := r.classes[name]
		if !ok {
			return errorf(ErrorCodeNotFound, op, name, "class '%s' is not registered", name)
		}
		batch[name] = entry
	}

	for name, entry := range batch {
		if live := entry.live.Load(); live > 0 {
			return errorf(ErrorCodeInUse, op, name, "%d live instance(s)", live).
				WithContext("live", live)
		}
		children := entry.children
		for _, other := range batch {
			if n := len(other.hier); n > 1 && other.hier[n-2] == entry {
				children--
			}
		}
		if children > 0 {
			return errorf(ErrorCodeInUse, op, name, "%d registered subclass(es)", children)
		}
	}

	// leaves first so parent child counts stay consistent
	ordered := make([]*classEntry, 0, len(batch))
	for _, entry := range batch {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return len(ordered[i].hier) > len(ordered[j].hier)
	})
	for _, entry := range ordered {
		name := entry.cls.ClassName()
		r.removeLocked(name)
		r.logger.Debug("class unregistered", "class", name)
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.classes[name]
	if !ok {
		return nil, false
	}
	return entry.cls, true
}

// Find is Lookup with a NOT_FOUND error that suggests close matches.
func (r *Registry) Find(name string) (*Class, error) {
	if name == "" {
		return nil, errorf(ErrorCodeArg, "Registry.Find", "", "class name is empty")
	}
	if cls, ok := r.Lookup(name); ok {
		return cls, nil
	}
	return nil, r.notFound("Registry.Find", name)
}

// notFound builds a NOT_FOUND error; it must be called without r.mu held.
func (r *Registry) notFound(op, name string) error {
	err := errorf(ErrorCodeNotFound, op, name, "class '%s' is not registered", name)
	if matches := fuzzy.Find(name, r.Names()); len(matches) > 0 {
		err.Message += fmt.Sprintf(" (did you mean '%s'?)", matches[0].Str)
		err.WithContext("suggestion", matches[0].Str)
	}
	return err
}

// IsRegistered reports whether a class is registered under name.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered class names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Live returns the number of live instances of name, subclasses included.
func (r *Registry) Live(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.classes[name]; ok {
		return entry.live.Load()
	}
	return 0
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	classes := len(r.classes)
	r.mu.RUnlock()

	return RegistryStats{
		Classes:     classes,
		LiveObjects: r.liveObjects.Load(),
		LiveBytes:   r.liveBytes.Load(),
		Allocations: r.allocs.Load(),
		Frees:       r.frees.Load(),
	}
}

// Clear tears the registry down at process quit. It fails with IN_USE,
// removing nothing, while any object is still live. Once cleared the
// registry refuses new classes.
func (r *Registry) Clear() error {
	const op = "Registry.Clear"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if live := r.liveObjects.Load(); live > 0 {
		var busy []string
		for name, entry := range r.classes {
			if entry.live.Load() > 0 && len(entry.hier) > 1 {
				busy = append(busy, name)
			}
		}
		sort.Strings(busy)
		return errorf(ErrorCodeInUse, op, "", "%d live object(s)", live).
			WithContext("classes", busy)
	}

	r.closed = true
	r.classes = make(map[string]*classEntry)
	r.logger.Debug("class registry closed")
	return nil
}

// reserve accounts for a new allocation of size bytes. Caller holds r.mu
// for reading.
func (r *Registry) reserve(op string, cls *Class) error {
	size := int64(cls.Size)
	if max := r.config.MaxLiveBytes; max > 0 {
		if total := r.liveBytes.Add(size); total > max {
			r.liveBytes.Add(-size)
			err := errorf(ErrorCodeAllocFailure, op, cls.ClassName(),
				"live object budget of %s exhausted", humanize.Bytes(uint64(max)))
			if r.config.FatalOnAllocFailure {
				err.fatal = true
				r.logger.Error("fatal allocation failure", "class", cls.ClassName(), "error", err)
				osExit(1)
			}
			return err
		}
	} else {
		r.liveBytes.Add(size)
	}
	r.liveObjects.Add(1)
	r.allocs.Add(1)
	return nil
}

// release returns an allocation made by reserve.
func (r *Registry) release(cls *Class) {
	r.liveBytes.Add(-int64(cls.Size))
	r.liveObjects.Add(-1)
	r.frees.Add(1)
}
