// Package output implements outputs and the per-output frame pipeline
// that composites the scene and presents it to a display.
package output

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/geom"
)

var (
	ErrInvalidScale = errors.New("invalid output scale")
	ErrUnknownMode  = errors.New("mode not available on output")
)

// Info is the fixed description of an output.
type Info struct {
	Make  string
	Model string
	// PhysicalSize is in millimeters.
	PhysicalSize image.Point
}

// Output is a region of the compositor's global space that is shown on
// a display.
type Output struct {
	name      string
	info      Info
	modes     []display.Mode
	mode      display.Mode
	scale     int
	transform geom.Transform
	location  image.Point

	onChange []func(*Output)
}

// New returns an output in its preferred mode, or its first one if
// none is preferred.
func New(name string, info Info, modes []display.Mode) *Output {
	if len(modes) == 0 {
		panic("output has no modes")
	}

	mode := modes[0]
	if i := slices.IndexFunc(modes, func(m display.Mode) bool { return m.Preferred }); i >= 0 {
		mode = modes[i]
	}

	return &Output{
		name:  name,
		info:  info,
		modes: slices.Clone(modes),
		mode:  mode,
		scale: 1,
	}
}

func (o *Output) Name() string               { return o.name }
func (o *Output) Info() Info                 { return o.info }
func (o *Output) Modes() []display.Mode      { return slices.Clone(o.modes) }
func (o *Output) Mode() display.Mode         { return o.mode }
func (o *Output) Scale() int                 { return o.scale }
func (o *Output) Transform() geom.Transform  { return o.transform }
func (o *Output) Location() image.Point      { return o.location }
func (o *Output) String() string             { return o.name }
func (o *Output) OnChange(f func(o *Output)) { o.onChange = append(o.onChange, f) }

func (o *Output) changed() {
	for _, f := range o.onChange {
		f(o)
	}
}

// SetMode switches the output to one of its modes.
func (o *Output) SetMode(mode display.Mode) error {
	i := slices.IndexFunc(o.modes, func(m display.Mode) bool { return (m.Size == mode.Size) && (m.Refresh == mode.Refresh) })
	if i < 0 {
		return fmt.Errorf("%v on %v: %w", mode, o.name, ErrUnknownMode)
	}
	if o.modes[i] == o.mode {
		return nil
	}

	o.mode = o.modes[i]
	o.changed()
	return nil
}

func (o *Output) SetScale(scale int) error {
	if scale < 1 {
		return fmt.Errorf("%v: %w", scale, ErrInvalidScale)
	}
	if scale == o.scale {
		return nil
	}

	o.scale = scale
	o.changed()
	return nil
}

func (o *Output) SetTransform(t geom.Transform) {
	if !t.Valid() {
		panic(fmt.Errorf("invalid transform %v", uint32(t)))
	}
	if t == o.transform {
		return
	}

	o.transform = t
	o.changed()
}

func (o *Output) SetLocation(p image.Point) {
	if p == o.location {
		return
	}

	o.location = p
	o.changed()
}

// BufferTransform is the transform from the output's unrotated
// content to its framebuffer.
func (o *Output) BufferTransform() geom.Transform {
	return o.transform.Invert()
}

// Geometry returns the area of global space that the output shows.
func (o *Output) Geometry() image.Rectangle {
	size := o.transform.Size(o.mode.Size).Div(o.scale)
	return image.Rectangle{Min: o.location, Max: o.location.Add(size)}
}

// ToBuffer maps r, in global coordinates, to framebuffer pixels.
func (o *Output) ToBuffer(r image.Rectangle) image.Rectangle {
	area := o.transform.Size(o.mode.Size)
	r = geom.ScaleRect(r.Sub(o.location), o.scale)
	return o.BufferTransform().Rect(r, area)
}
