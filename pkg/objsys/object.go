package objsys

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of an object.
type State int32

const (
	// StateInitializing is the state while Init hooks run.
	StateInitializing State = iota
	// StateLive means the object holds at least one reference.
	StateLive
	// StateDisposing means Destroy hooks are running.
	StateDisposing
	// StateFreed means the object has been torn down.
	StateFreed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLive:
		return "live"
	case StateDisposing:
		return "disposing"
	case StateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// Object is an instance of a registered class. Its fields are laid out one
// level per class of the inheritance chain, root first.
//
// An object is created with one reference. Retain adds a reference, Release
// drops one; the release that drops the last reference tears the object
// down. Objects must only be used while the caller holds a reference.
type Object struct {
	cls    *Class
	entry  *classEntry
	reg    *Registry
	fields []any

	refs  atomic.Int32
	state atomic.Int32
}

// New instantiates the class registered under name. The fields of every
// level are allocated zeroed and the Init hooks run root first. The new
// object holds one reference.
func (r *Registry) New(name string) (*Object, error) {
	const op = "Registry.New"

	if name == "" {
		return nil, errorf(ErrorCodeArg, op, "", "argument \"name\" is empty")
	}

	r.mu.RLock()
	entry, ok := r.classes[name]
	if !ok {
		r.mu.RUnlock()
		return nil, r.notFound(op, name)
	}
	if err := r.reserve(op, entry.cls); err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	// counted under the read lock so Unregister cannot interleave
	for _, level := range entry.hier {
		level.live.Add(1)
	}
	r.mu.RUnlock()

	obj := &Object{
		cls:    entry.cls,
		entry:  entry,
		reg:    r,
		fields: make([]any, len(entry.hier)),
	}
	obj.state.Store(int32(StateInitializing))

	for i, level := range entry.hier {
		if level.cls.Fields != nil {
			obj.fields[i] = level.cls.Fields()
		}
	}

	for i, level := range entry.hier {
		if level.cls.Init == nil {
			continue
		}
		if err := level.cls.Init(obj); err != nil {
			destroyErr := obj.destroyLevels(i - 1)
			obj.free()
			return nil, NewError(ErrorCodeMethodFailed, op, name,
				fmt.Sprintf("failed to run init[%d] (%s)", i, level.cls.ClassName()),
				errors.Join(err, destroyErr))
		}
	}

	obj.refs.Store(1)
	obj.state.Store(int32(StateLive))
	return obj, nil
}

// Class returns the object's class descriptor.
func (o *Object) Class() *Class {
	if o == nil {
		return nil
	}
	return o.cls
}

// Registry returns the registry the object was created from.
func (o *Object) Registry() *Registry {
	if o == nil {
		return nil
	}
	return o.reg
}

// Type returns the object's class name.
func (o *Object) Type() string {
	if o == nil {
		return ""
	}
	return o.cls.ClassName()
}

// Inheritance returns the object's full inheritance chain.
func (o *Object) Inheritance() string {
	if o == nil {
		return ""
	}
	return o.cls.Inheritance()
}

// Size returns the declared size of the object's class.
func (o *Object) Size() uintptr {
	if o == nil {
		return 0
	}
	return o.cls.Size
}

// Refs returns the current reference count.
func (o *Object) Refs() int32 {
	if o == nil {
		return 0
	}
	return o.refs.Load()
}

// State returns the lifecycle state.
func (o *Object) State() State {
	if o == nil {
		return StateFreed
	}
	return State(o.state.Load())
}

// IsType reports whether the object's class is name or derives from it.
// Every object is of type RootClassName.
func (o *Object) IsType(name string) bool {
	if o == nil || name == "" {
		return false
	}
	return o.cls.IsA(name)
}

// Cast returns the object itself if it is of type name, or a
// TYPE_MISMATCH error.
func (o *Object) Cast(name string) (*Object, error) {
	const op = "Object.Cast"

	if o == nil {
		return nil, errorf(ErrorCodeArg, op, "", "argument \"self\" is nil")
	}
	if name == "" {
		return nil, errorf(ErrorCodeArg, op, o.Type(), "argument \"cast_to\" is empty")
	}
	if !o.cls.IsA(name) {
		return nil, errorf(ErrorCodeTypeMismatch, op, o.Type(),
			"failed to cast object of type '%s' to '%s'", o.cls.Name, name)
	}
	return o, nil
}

// FieldsOf returns the own fields of the className level of obj. It fails
// if obj is not of type className or if the level's fields are not a *T.
func FieldsOf[T any](obj *Object, className string) (*T, error) {
	const op = "FieldsOf"

	if _, err := obj.Cast(className); err != nil {
		return nil, err
	}
	if obj.State() == StateFreed {
		return nil, errorf(ErrorCodeArg, op, obj.Type(), "object has been freed")
	}

	for i, level := range obj.entry.hier {
		if level.cls.ClassName() != className {
			continue
		}
		f, ok := obj.fields[i].(*T)
		if !ok {
			return nil, errorf(ErrorCodeTypeMismatch, op, className,
				"fields of '%s' are %T, not %T", className, obj.fields[i], (*T)(nil))
		}
		return f, nil
	}
	return nil, errorf(ErrorCodeNotFound, op, className, "no fields for level '%s'", className)
}

// Retain adds a reference. It fails once the object has been disposed.
func (o *Object) Retain() error {
	if o == nil {
		return errorf(ErrorCodeArg, "Object.Retain", "", "argument \"self\" is nil")
	}
	for {
		n := o.refs.Load()
		if n <= 0 {
			return errorf(ErrorCodeArg, "Object.Retain", o.Type(), "object has been disposed")
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference. The release that drops the last reference
// runs the Destroy hooks leaf first and frees the object.
func (o *Object) Release() error {
	const op = "Object.Release"

	if o == nil {
		return errorf(ErrorCodeArg, op, "", "argument \"self\" is nil")
	}

	for {
		n := o.refs.Load()
		if n <= 0 {
			return errorf(ErrorCodeArg, op, o.Type(), "object has been disposed")
		}
		if !o.refs.CompareAndSwap(n, n-1) {
			continue
		}

		var err error
		if dispose := o.cls.Dispose; dispose != nil {
			if derr := dispose(o, n-1); derr != nil {
				err = NewError(ErrorCodeMethodFailed, op, o.Type(), "call to class method \"dispose\" failed", derr)
			}
		}
		if n-1 == 0 {
			if terr := o.teardown(op); terr != nil {
				err = errors.Join(err, terr)
			}
		}
		return err
	}
}

// Delete tears the object down regardless of its reference count. Other
// holders of the object must not use it afterwards.
func (o *Object) Delete() error {
	const op = "Object.Delete"

	if o == nil {
		return errorf(ErrorCodeArg, op, "", "argument \"self\" is nil")
	}
	if !o.state.CompareAndSwap(int32(StateLive), int32(StateDisposing)) {
		return errorf(ErrorCodeArg, op, o.Type(), "object has been disposed")
	}
	o.refs.Store(0)
	return o.destroyAndFree(op)
}

// teardown runs once per object; a concurrent Delete makes it a no-op.
func (o *Object) teardown(op string) error {
	if !o.state.CompareAndSwap(int32(StateLive), int32(StateDisposing)) {
		return nil
	}
	return o.destroyAndFree(op)
}

func (o *Object) destroyAndFree(op string) error {
	err := o.destroyLevels(len(o.entry.hier) - 1)
	o.free()
	if err != nil {
		return NewError(ErrorCodeMethodFailed, op, o.Type(), "call to class method \"destroy\" failed", err)
	}
	return nil
}

// destroyLevels runs the Destroy hooks of levels top down to 0. All hooks
// run even if one fails.
func (o *Object) destroyLevels(top int) error {
	var errs []error
	for i := top; i >= 0; i-- {
		level := o.entry.hier[i].cls
		if level.Destroy == nil {
			continue
		}
		if err := level.Destroy(o); err != nil {
			errs = append(errs, fmt.Errorf("destroy[%d] (%s): %w", i, level.ClassName(), err))
		}
	}
	return errors.Join(errs...)
}

func (o *Object) free() {
	o.fields = nil
	o.state.Store(int32(StateFreed))
	for _, level := range o.entry.hier {
		level.live.Add(-1)
	}
	o.reg.release(o.cls)
}

// String implements fmt.Stringer using the class Print hook.
func (o *Object) String() string {
	s, err := Print(o)
	if err != nil {
		return "[" + o.Type() + "]"
	}
	return s
}
