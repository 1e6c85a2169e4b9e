package objsys

import (
	"strings"
)

// RootClassName is the name of the class every other class derives from.
const RootClassName = "SObject"

// hierarchySep separates the class names of an inheritance chain.
const hierarchySep = ":"

// Hook signatures. A nil hook means the operation is not supported by the
// class.
type (
	// InitFunc initializes the fields of one hierarchy level. When it runs
	// for a level, every ancestor level has already been initialized.
	InitFunc func(obj *Object) error

	// DestroyFunc releases the resources owned by one hierarchy level. It
	// must not try to free the object itself.
	DestroyFunc func(obj *Object) error

	// DisposeFunc is called on every Release with the reference count left
	// after the release.
	DisposeFunc func(obj *Object, refs int32) error

	// CompareFunc reports whether two objects of the same class are equal.
	// Reference counts must not be part of the comparison.
	CompareFunc func(a, b *Object) (bool, error)

	// PrintFunc returns a textual representation of the object.
	PrintFunc func(obj *Object) (string, error)

	// CopyFunc returns a new, independent object equal to obj.
	CopyFunc func(obj *Object) (*Object, error)
)

// Class describes one type: its place in the inheritance chain, layout size,
// version, and hook table.
//
// Hooks are per class. A subclass that wants its parent's behavior for a
// slot calls the parent hook itself:
//
//	Compare: func(a, b *objsys.Object) (bool, error) {
//		if eq, err := ShapeClass.Compare(a, b); err != nil || !eq {
//			return eq, err
//		}
//		...
//	}
type Class struct {
	// Name is the full inheritance chain, root first, e.g.
	// "SObject:SShape:SCircle".
	Name string

	// Parent optionally links the parent descriptor. When nil, ancestors
	// are resolved by name at registration.
	Parent *Class

	// Size is the declared instance size in bytes, ancestors included.
	Size uintptr

	Version Version

	// Fields allocates the zeroed own fields of this level, or is nil when
	// the level adds no state.
	Fields func() any

	Init    InitFunc
	Destroy DestroyFunc
	Dispose DisposeFunc
	Compare CompareFunc
	Print   PrintFunc
	Copy    CopyFunc
}

// ClassName returns the last segment of the inheritance chain.
func (c *Class) ClassName() string {
	if i := strings.LastIndex(c.Name, hierarchySep); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

// Inheritance returns the full inheritance chain.
func (c *Class) Inheritance() string {
	return c.Name
}

// Ancestry returns the class names of the chain, root first.
func (c *Class) Ancestry() []string {
	return strings.Split(c.Name, hierarchySep)
}

// ParentName returns the class name of the direct parent, or "" for a root.
func (c *Class) ParentName() string {
	parts := c.Ancestry()
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// IsA reports whether name is this class or one of its ancestors.
func (c *Class) IsA(name string) bool {
	for _, n := range c.Ancestry() {
		if n == name {
			return true
		}
	}
	return false
}

// validate checks the descriptor on its own, without the registry.
func (c *Class) validate(op string) error {
	if c == nil {
		return errorf(ErrorCodeArg, op, "", "class is nil")
	}
	if c.Name == "" {
		return errorf(ErrorCodeArg, op, "", "class name is empty")
	}
	for _, part := range c.Ancestry() {
		if part == "" || strings.TrimSpace(part) != part {
			return errorf(ErrorCodeArg, op, c.Name, "malformed inheritance chain %q", c.Name)
		}
	}

	if c.Parent == nil {
		return nil
	}
	if c.Parent.Name+hierarchySep+c.ClassName() != c.Name {
		return errorf(ErrorCodeArg, op, c.ClassName(),
			"chain %q does not extend parent %q", c.Name, c.Parent.Name)
	}
	if c.Size < c.Parent.Size {
		return errorf(ErrorCodeArg, op, c.ClassName(),
			"size %d smaller than parent size %d", c.Size, c.Parent.Size)
	}
	return nil
}
