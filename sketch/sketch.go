// Package sketch defines the value types of a sketchfs document and their
// text wire format.
//
// A Document is an ordered list of Layers; a Layer is an ordered list of
// committed Strokes; a Stroke is an ordered list of Objects.  Every type here
// is a plain value: copying a Document with Clone yields a snapshot that
// shares no memory with the original.
//
// The same types are used by the sketchfs server and by client tools that
// talk to it through the board package.
package sketch

import (
	"errors"
	"fmt"
	"math"
)

// Validation errors returned by the constructors.
var (
	ErrInvalidColor  = errors.New("invalid color")
	ErrInvalidScale  = errors.New("invalid scale")
	ErrInvalidObject = errors.New("invalid object")
)

// PencilID is the object id the drawing front end uses for pencil marks.
// Renderers draw these as short rotated line segments.
const PencilID = 507

// ServiceName is the name the file server posts itself under in the
// namespace directory.
const ServiceName = "sketchfs"

// Color is an RGBA color.  All four channels, alpha included, range over
// 0..255.
type Color struct {
	R, G, B, A uint8
}

// NewColor validates r, g, b and a and returns the Color they describe.
func NewColor(r, g, b, a int) (Color, error) {
	for _, c := range [...]struct {
		name string
		v    int
	}{{"r", r}, {"g", g}, {"b", b}, {"a", a}} {
		if c.v < 0 || c.v > 255 {
			return Color{}, fmt.Errorf("%w: %s=%d out of range 0..255", ErrInvalidColor, c.name, c.v)
		}
	}
	return Color{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)}, nil
}

// Object is a single placed mark.  Rotation is in degrees.
type Object struct {
	ID       int64
	X, Y     float64
	Rotation float64
	Scale    int
	Color    Color
}

// NewObject validates the pose and returns the Object.
func NewObject(id int64, x, y, rotation float64, scale int, c Color) (Object, error) {
	o := Object{ID: id, X: x, Y: y, Rotation: rotation, Scale: scale, Color: c}
	if err := o.Validate(); err != nil {
		return Object{}, err
	}
	return o, nil
}

// Validate reports whether o could have been built by NewObject.
func (o Object) Validate() error {
	for _, f := range [...]struct {
		name string
		v    float64
	}{{"x", o.X}, {"y", o.Y}, {"rotation", o.Rotation}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidObject, f.name)
		}
	}
	if o.Scale < 1 {
		return fmt.Errorf("%w: %d, want >= 1", ErrInvalidScale, o.Scale)
	}
	return nil
}

// Stroke is one continuous drawing gesture, in drawing order.
type Stroke []Object

// Clone returns a copy of s that shares no memory with it.
func (s Stroke) Clone() Stroke {
	if s == nil {
		return nil
	}
	return append(Stroke(make([]Object, 0, len(s))), s...)
}

// Layer holds committed strokes in commit order.
type Layer []Stroke

// Clone returns a deep copy of l.
func (l Layer) Clone() Layer {
	if l == nil {
		return nil
	}
	out := make(Layer, len(l))
	for i, s := range l {
		out[i] = s.Clone()
	}
	return out
}

// Document is the ordered list of layers; a layer's index is its identity.
type Document []Layer

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for i, l := range d {
		out[i] = l.Clone()
	}
	return out
}

// Objects returns the total number of objects in d.
func (d Document) Objects() int {
	n := 0
	for _, l := range d {
		for _, s := range l {
			n += len(s)
		}
	}
	return n
}
