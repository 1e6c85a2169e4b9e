// Package shapes is an example class hierarchy on the object runtime:
// SShape with the subclasses SCircle and SRectangle. It is also built into
// the example plugin under examples/plugins/shapes.
//
// Shape objects are not safe for concurrent mutation.
package shapes

import (
	"fmt"
	"math"

	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

// Version of the shape classes.
var Version = objsys.Version{Major: 0, Minor: 1}

// Shape holds the position shared by every shape.
type Shape struct {
	X, Y int
}

// Circle holds the own fields of an SCircle.
type Circle struct {
	Radius int
	Colour string
}

// Rectangle holds the own fields of an SRectangle.
type Rectangle struct {
	Width, Height int
	Colour        string
}

// Methods are the shape specific hooks of a class.
type Methods struct {
	Move func(obj *objsys.Object, x, y int) error
	Area func(obj *objsys.Object) (float64, error)
}

// ShapeClass is the abstract base of all shapes: it can be instantiated
// but implements neither Move nor Area.
var ShapeClass = &objsys.Class{
	Name:    "SObject:SShape",
	Parent:  objsys.ObjectClass,
	Size:    objsys.LayoutSize[Shape](objsys.ObjectClass),
	Version: Version,
	Fields:  func() any { return new(Shape) },
}

// CircleClass describes SCircle.
var CircleClass = &objsys.Class{
	Name:    "SObject:SShape:SCircle",
	Parent:  ShapeClass,
	Size:    objsys.LayoutSize[Circle](ShapeClass),
	Version: Version,
	Fields:  func() any { return new(Circle) },
	Init: func(obj *objsys.Object) error {
		c, err := objsys.FieldsOf[Circle](obj, "SCircle")
		if err != nil {
			return err
		}
		c.Radius = 0
		c.Colour = ""
		return nil
	},
	Print: func(obj *objsys.Object) (string, error) {
		s, c, err := circleFields(obj)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[SCircle] at (%d,%d), radius %d, colour %s",
			s.X, s.Y, c.Radius, colourOrNone(c.Colour)), nil
	},
	Compare: func(a, b *objsys.Object) (bool, error) {
		sa, ca, err := circleFields(a)
		if err != nil {
			return false, err
		}
		sb, cb, err := circleFields(b)
		if err != nil {
			return false, err
		}
		return *sa == *sb && *ca == *cb, nil
	},
	Copy: func(obj *objsys.Object) (*objsys.Object, error) {
		s, c, err := circleFields(obj)
		if err != nil {
			return nil, err
		}
		return NewCircle(obj.Registry(), s.X, s.Y, c.Radius, c.Colour)
	},
}

// RectangleClass describes SRectangle.
var RectangleClass = &objsys.Class{
	Name:    "SObject:SShape:SRectangle",
	Parent:  ShapeClass,
	Size:    objsys.LayoutSize[Rectangle](ShapeClass),
	Version: Version,
	Fields:  func() any { return new(Rectangle) },
	Print: func(obj *objsys.Object) (string, error) {
		s, r, err := rectangleFields(obj)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[SRectangle] at (%d,%d), width %d, height %d, colour %s",
			s.X, s.Y, r.Width, r.Height, colourOrNone(r.Colour)), nil
	},
	Compare: func(a, b *objsys.Object) (bool, error) {
		sa, ra, err := rectangleFields(a)
		if err != nil {
			return false, err
		}
		sb, rb, err := rectangleFields(b)
		if err != nil {
			return false, err
		}
		return *sa == *sb && *ra == *rb, nil
	},
	Copy: func(obj *objsys.Object) (*objsys.Object, error) {
		s, r, err := rectangleFields(obj)
		if err != nil {
			return nil, err
		}
		return NewRectangle(obj.Registry(), s.X, s.Y, r.Width, r.Height, r.Colour)
	},
}

// methods is keyed by class name. Only the object's own class is
// consulted, like the hooks on objsys.Class.
var methods = map[string]*Methods{
	"SCircle": {
		Move: moveShape,
		Area: func(obj *objsys.Object) (float64, error) {
			_, c, err := circleFields(obj)
			if err != nil {
				return 0, err
			}
			r := float64(c.Radius)
			return math.Pi * r * r, nil
		},
	},
	"SRectangle": {
		Move: moveShape,
		Area: func(obj *objsys.Object) (float64, error) {
			_, r, err := rectangleFields(obj)
			if err != nil {
				return 0, err
			}
			return float64(r.Width) * float64(r.Height), nil
		},
	},
}

// Classes returns the shape classes, parents first.
func Classes() []*objsys.Class {
	return []*objsys.Class{ShapeClass, CircleClass, RectangleClass}
}

// ClassNames returns the names of the shape classes, parents first.
func ClassNames() []string {
	names := make([]string, 0, 3)
	for _, cls := range Classes() {
		names = append(names, cls.ClassName())
	}
	return names
}

// Register registers the shape classes with reg.
func Register(reg *objsys.Registry) error {
	return reg.RegisterAll(Classes()...)
}

// Unregister removes the shape classes from reg.
func Unregister(reg *objsys.Registry) error {
	return reg.UnregisterAll(ClassNames()...)
}

// NewCircle creates an SCircle.
func NewCircle(reg *objsys.Registry, x, y, radius int, colour string) (*objsys.Object, error) {
	obj, err := reg.New("SCircle")
	if err != nil {
		return nil, err
	}
	s, c, err := circleFields(obj)
	if err != nil {
		_ = obj.Delete()
		return nil, err
	}
	s.X, s.Y = x, y
	c.Radius = radius
	c.Colour = colour
	return obj, nil
}

// NewRectangle creates an SRectangle.
func NewRectangle(reg *objsys.Registry, x, y, width, height int, colour string) (*objsys.Object, error) {
	obj, err := reg.New("SRectangle")
	if err != nil {
		return nil, err
	}
	s, r, err := rectangleFields(obj)
	if err != nil {
		_ = obj.Delete()
		return nil, err
	}
	s.X, s.Y = x, y
	r.Width, r.Height = width, height
	r.Colour = colour
	return obj, nil
}

// Move moves a shape to (x, y).
func Move(obj *objsys.Object, x, y int) error {
	const op = "shapes.Move"

	m, err := methodsOf(op, obj)
	if err != nil {
		return err
	}
	if m == nil || m.Move == nil {
		return objsys.NewError(objsys.ErrorCodeMethodUnavailable, op, obj.Type(),
			"shape method \"move\" not implemented", nil)
	}
	if err := m.Move(obj, x, y); err != nil {
		return objsys.NewError(objsys.ErrorCodeMethodFailed, op, obj.Type(),
			"call to class method \"move\" failed", err)
	}
	return nil
}

// Area returns the area of a shape.
func Area(obj *objsys.Object) (float64, error) {
	const op = "shapes.Area"

	m, err := methodsOf(op, obj)
	if err != nil {
		return 0, err
	}
	if m == nil || m.Area == nil {
		return 0, objsys.NewError(objsys.ErrorCodeMethodUnavailable, op, obj.Type(),
			"shape method \"area\" not implemented", nil)
	}
	area, err := m.Area(obj)
	if err != nil {
		return 0, objsys.NewError(objsys.ErrorCodeMethodFailed, op, obj.Type(),
			"call to class method \"area\" failed", err)
	}
	return area, nil
}

// Position returns the position of a shape.
func Position(obj *objsys.Object) (x, y int, err error) {
	s, err := objsys.FieldsOf[Shape](obj, "SShape")
	if err != nil {
		return 0, 0, err
	}
	return s.X, s.Y, nil
}

func methodsOf(op string, obj *objsys.Object) (*Methods, error) {
	if obj == nil {
		return nil, objsys.NewError(objsys.ErrorCodeArg, op, "", "argument \"self\" is nil", nil)
	}
	if _, err := obj.Cast("SShape"); err != nil {
		return nil, err
	}
	return methods[obj.Type()], nil
}

func moveShape(obj *objsys.Object, x, y int) error {
	s, err := objsys.FieldsOf[Shape](obj, "SShape")
	if err != nil {
		return err
	}
	s.X, s.Y = x, y
	return nil
}

func circleFields(obj *objsys.Object) (*Shape, *Circle, error) {
	s, err := objsys.FieldsOf[Shape](obj, "SShape")
	if err != nil {
		return nil, nil, err
	}
	c, err := objsys.FieldsOf[Circle](obj, "SCircle")
	if err != nil {
		return nil, nil, err
	}
	return s, c, nil
}

func rectangleFields(obj *objsys.Object) (*Shape, *Rectangle, error) {
	s, err := objsys.FieldsOf[Shape](obj, "SShape")
	if err != nil {
		return nil, nil, err
	}
	r, err := objsys.FieldsOf[Rectangle](obj, "SRectangle")
	if err != nil {
		return nil, nil, err
	}
	return s, r, nil
}

func colourOrNone(c string) string {
	if c == "" {
		return "None"
	}
	return c
}
