package objsys

import (
	"fmt"
	"reflect"
	"sync"
)

// ObjectClass is the root of every inheritance chain. It has no fields, no
// hooks and a declared size of zero; every registry holds it from
// construction.
var ObjectClass = &Class{
	Name:    RootClassName,
	Version: Version{Major: 1, Minor: 0},
}

// LayoutSize returns the declared size of a class whose own fields are a T
// and whose parent is parent.
func LayoutSize[T any](parent *Class) uintptr {
	return parent.Size + reflect.TypeOf((*T)(nil)).Elem().Size()
}

// scalar holds the value of the built-in value classes.
type scalar[T comparable] struct {
	mu sync.Mutex
	v  T
}

func scalarClass[T comparable](name, format string) *Class {
	cls := &Class{
		Name:    RootClassName + hierarchySep + name,
		Parent:  ObjectClass,
		Size:    LayoutSize[scalar[T]](ObjectClass),
		Version: Version{Major: 1, Minor: 0},
		Fields:  func() any { return new(scalar[T]) },
	}
	cls.Compare = func(a, b *Object) (bool, error) {
		va, err := scalarValue[T](a, name)
		if err != nil {
			return false, err
		}
		vb, err := scalarValue[T](b, name)
		if err != nil {
			return false, err
		}
		return va == vb, nil
	}
	cls.Print = func(obj *Object) (string, error) {
		v, err := scalarValue[T](obj, name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(format, v), nil
	}
	cls.Copy = func(obj *Object) (*Object, error) {
		v, err := scalarValue[T](obj, name)
		if err != nil {
			return nil, err
		}
		return newScalar(obj.Registry(), name, v)
	}
	return cls
}

func newScalar[T comparable](reg *Registry, name string, v T) (*Object, error) {
	if reg == nil {
		return nil, errorf(ErrorCodeArg, "New"+name[1:], name, "registry is nil")
	}
	obj, err := reg.New(name)
	if err != nil {
		return nil, err
	}
	if err := setScalar(obj, name, v); err != nil {
		_ = obj.Delete()
		return nil, err
	}
	return obj, nil
}

func scalarValue[T comparable](obj *Object, name string) (T, error) {
	var zero T
	f, err := FieldsOf[scalar[T]](obj, name)
	if err != nil {
		return zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v, nil
}

func setScalar[T comparable](obj *Object, name string, v T) error {
	f, err := FieldsOf[scalar[T]](obj, name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.v = v
	f.mu.Unlock()
	return nil
}

// Built-in value classes.
var (
	IntClass    = scalarClass[int32]("SInt", "%d")
	FloatClass  = scalarClass[float64]("SFloat", "%f")
	StringClass = scalarClass[string]("SString", "%s")
)

// NewInt creates an SInt holding v.
func NewInt(reg *Registry, v int32) (*Object, error) { return newScalar(reg, "SInt", v) }

// IntValue returns the value of an SInt.
func IntValue(obj *Object) (int32, error) { return scalarValue[int32](obj, "SInt") }

// SetInt sets the value of an SInt.
func SetInt(obj *Object, v int32) error { return setScalar(obj, "SInt", v) }

// NewFloat creates an SFloat holding v.
func NewFloat(reg *Registry, v float64) (*Object, error) { return newScalar(reg, "SFloat", v) }

// FloatValue returns the value of an SFloat.
func FloatValue(obj *Object) (float64, error) { return scalarValue[float64](obj, "SFloat") }

// SetFloat sets the value of an SFloat.
func SetFloat(obj *Object, v float64) error { return setScalar(obj, "SFloat", v) }

// NewString creates an SString holding a copy of s.
func NewString(reg *Registry, s string) (*Object, error) { return newScalar(reg, "SString", s) }

// StringValue returns the value of an SString.
func StringValue(obj *Object) (string, error) { return scalarValue[string](obj, "SString") }

// SetString sets the value of an SString.
func SetString(obj *Object, s string) error { return setScalar(obj, "SString", s) }

// FreeFunc releases a value held by an SVoid.
type FreeFunc func(v any) error

// voidFields holds an opaque value together with its type name and the
// function that releases it when the SVoid is destroyed.
type voidFields struct {
	mu       sync.Mutex
	typeName string
	value    any
	free     FreeFunc
}

// VoidClass wraps an opaque value. SVoid objects are printed by type name
// and cannot be compared or copied.
var VoidClass = &Class{
	Name:    RootClassName + hierarchySep + "SVoid",
	Parent:  ObjectClass,
	Size:    LayoutSize[voidFields](ObjectClass),
	Version: Version{Major: 1, Minor: 0},
	Fields:  func() any { return new(voidFields) },
	Destroy: func(obj *Object) error {
		f, err := FieldsOf[voidFields](obj, "SVoid")
		if err != nil {
			return err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.releaseLocked()
	},
	Print: func(obj *Object) (string, error) {
		f, err := FieldsOf[voidFields](obj, "SVoid")
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return fmt.Sprintf("[SVoid %s]", f.typeName), nil
	},
}

func (f *voidFields) releaseLocked() error {
	if f.free == nil || f.value == nil {
		return nil
	}
	err := f.free(f.value)
	f.value = nil
	f.free = nil
	return err
}

// NewVoid creates an SVoid holding v. typeName identifies what v is and is
// checked by VoidValue. free, when non-nil, is called with v when the SVoid
// is destroyed or its value replaced.
func NewVoid(reg *Registry, v any, typeName string, free FreeFunc) (*Object, error) {
	if reg == nil {
		return nil, errorf(ErrorCodeArg, "NewVoid", "SVoid", "registry is nil")
	}
	obj, err := reg.New("SVoid")
	if err != nil {
		return nil, err
	}
	if err := SetVoid(obj, v, typeName, free); err != nil {
		_ = obj.Delete()
		return nil, err
	}
	return obj, nil
}

// VoidValue returns the value of an SVoid holding a typeName.
func VoidValue(obj *Object, typeName string) (any, error) {
	f, err := FieldsOf[voidFields](obj, "SVoid")
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typeName != typeName {
		return nil, errorf(ErrorCodeTypeMismatch, "VoidValue", "SVoid",
			"value is of type '%s', not '%s'", f.typeName, typeName)
	}
	return f.value, nil
}

// SetVoid replaces the value of an SVoid, releasing the previous one.
func SetVoid(obj *Object, v any, typeName string, free FreeFunc) error {
	if typeName == "" {
		return errorf(ErrorCodeArg, "SetVoid", "SVoid", "argument \"type_name\" is empty")
	}
	f, err := FieldsOf[voidFields](obj, "SVoid")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.releaseLocked(); err != nil {
		return NewError(ErrorCodeMethodFailed, "SetVoid", "SVoid", "failed to free previous value", err)
	}
	f.typeName = typeName
	f.value = v
	f.free = free
	return nil
}

// RegisterBuiltins registers the built-in value classes.
func RegisterBuiltins(reg *Registry) error {
	return reg.RegisterAll(IntClass, FloatClass, StringClass, VoidClass)
}

// UnregisterBuiltins removes the built-in value classes.
func UnregisterBuiltins(reg *Registry) error {
	return reg.UnregisterAll(IntClass.ClassName(), FloatClass.ClassName(),
		StringClass.ClassName(), VoidClass.ClassName())
}
