package render

import (
	"image"
	"image/color"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/region"
)

// Owner is the object that an element was produced from. The pipeline
// references it for as long as a frame that shows it is in flight.
type Owner interface {
	Ref()
	Unref()
}

// Element is an immutable snapshot of something to draw in a single
// frame. Elements are either textured, with Buffer set, or a solid
// Color.
type Element struct {
	// Key identifies the element across frames, such as the surface it
	// was produced from. It must be comparable.
	Key   any
	Owner Owner

	Buffer  *buffer.Buffer
	Texture Texture
	Acquire buffer.Fence
	Color   color.Color

	// Src is the area of the buffer to sample, in buffer pixels. An
	// empty Src selects the whole buffer.
	Src image.Rectangle
	// Dst is where the element is drawn, in target pixels.
	Dst image.Rectangle
	// Clip, if not empty, limits drawing to an area of the target.
	Clip      image.Rectangle
	Transform geom.Transform
	Opacity   float64

	// Serial is the content serial of the element's source. When it
	// changes, DamageSince reports what changed since an older serial
	// relative to Dst.Min.
	Serial      uint64
	DamageSince func(serial uint64) region.Region
}

// Visible returns the area of the target that e draws to.
func (e *Element) Visible() image.Rectangle {
	if e.Clip.Empty() {
		return e.Dst
	}
	return e.Dst.Intersect(e.Clip)
}

// Source returns the area of the buffer to sample.
func (e *Element) Source() image.Rectangle {
	if !e.Src.Empty() || (e.Buffer == nil) {
		return e.Src
	}
	return image.Rectangle{Max: e.Buffer.Size()}
}

// Damage returns the area of the target that changed since the
// element's source had the given serial.
func (e *Element) Damage(serial uint64) region.Region {
	if serial == e.Serial {
		return region.Region{}
	}
	if e.DamageSince == nil {
		return region.New(e.Visible())
	}
	return e.DamageSince(serial).Translate(e.Dst.Min).Intersect(e.Visible())
}

// SolidColor returns an element that fills dst with c.
func SolidColor(key any, dst image.Rectangle, c color.Color) Element {
	return Element{
		Key:     key,
		Color:   c,
		Dst:     dst,
		Opacity: 1,
	}
}
