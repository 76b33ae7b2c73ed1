package software

import (
	"image"
	"image/color"

	"deedles.dev/wlkit/geom"
)

// clipMask is opaque, or uniformly translucent, inside of rect and
// transparent everywhere else.
type clipMask struct {
	rect  image.Rectangle
	alpha color.Alpha16
}

func newClipMask(rect image.Rectangle, opacity float64) *clipMask {
	return &clipMask{
		rect:  rect,
		alpha: color.Alpha16{A: uint16(min(opacity, 1) * 0xffff)},
	}
}

func (m *clipMask) ColorModel() color.Model { return color.Alpha16Model }
func (m *clipMask) Bounds() image.Rectangle { return m.rect }

func (m *clipMask) At(x, y int) color.Color {
	if !image.Pt(x, y).In(m.rect) {
		return color.Transparent
	}
	return m.alpha
}

// transformed presents an image with a transform applied to it.
type transformed struct {
	src    image.Image
	inv    geom.Transform
	bounds image.Rectangle
}

func newTransformed(src image.Image, t geom.Transform) *transformed {
	return &transformed{
		src:    src,
		inv:    t.Invert(),
		bounds: image.Rectangle{Max: t.Size(src.Bounds().Size())},
	}
}

func (t *transformed) ColorModel() color.Model { return t.src.ColorModel() }
func (t *transformed) Bounds() image.Rectangle { return t.bounds }

func (t *transformed) At(x, y int) color.Color {
	p := t.inv.Rect(image.Rect(x, y, x+1, y+1), t.bounds.Size()).Min
	return t.src.At(p.X+t.src.Bounds().Min.X, p.Y+t.src.Bounds().Min.Y)
}
