// Package region implements sets of rectangles as used for damage,
// opaque and input regions.
//
// A Region never under-reports: when the number of rectangles grows
// past a threshold the region collapses into its bounding box, which
// is always a superset of the original set.
package region

import (
	"fmt"
	"image"
	"strings"
)

// maxRects is the number of rectangles after which Add collapses the
// region into its bounding box.
const maxRects = 32

// Everything is a rectangle large enough to cover any surface or
// output. Adding it to a Region marks the whole area as included.
var Everything = image.Rect(-1<<30, -1<<30, 1<<30, 1<<30)

// Region is a set of rectangles. The zero value is an empty region.
type Region struct {
	rects []image.Rectangle
}

// New returns a region containing the given rectangles.
func New(rects ...image.Rectangle) Region {
	var r Region
	for _, rect := range rects {
		r.Add(rect)
	}
	return r
}

// Full returns a region containing Everything.
func Full() Region {
	return Region{rects: []image.Rectangle{Everything}}
}

// Add adds rect to the region. Rectangles that are already covered by
// rect are dropped.
func (r *Region) Add(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}

	for _, existing := range r.rects {
		if rect.In(existing) {
			return
		}
	}

	kept := make([]image.Rectangle, 0, len(r.rects)+1)
	for _, existing := range r.rects {
		if !existing.In(rect) {
			kept = append(kept, existing)
		}
	}
	r.rects = append(kept, rect)

	if len(r.rects) > maxRects {
		r.rects = []image.Rectangle{r.Bounds()}
	}
}

// Subtract removes rect from the region.
func (r *Region) Subtract(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() || len(r.rects) == 0 {
		return
	}

	out := make([]image.Rectangle, 0, len(r.rects))
	for _, existing := range r.rects {
		out = append(out, cut(existing, rect)...)
	}
	r.rects = out
}

// cut returns the parts of a that are not covered by b.
func cut(a, b image.Rectangle) []image.Rectangle {
	i := a.Intersect(b)
	if i.Empty() {
		return []image.Rectangle{a}
	}

	pieces := make([]image.Rectangle, 0, 4)
	if a.Min.Y < i.Min.Y {
		pieces = append(pieces, image.Rect(a.Min.X, a.Min.Y, a.Max.X, i.Min.Y))
	}
	if i.Max.Y < a.Max.Y {
		pieces = append(pieces, image.Rect(a.Min.X, i.Max.Y, a.Max.X, a.Max.Y))
	}
	if a.Min.X < i.Min.X {
		pieces = append(pieces, image.Rect(a.Min.X, i.Min.Y, i.Min.X, i.Max.Y))
	}
	if i.Max.X < a.Max.X {
		pieces = append(pieces, image.Rect(i.Max.X, i.Min.Y, a.Max.X, i.Max.Y))
	}
	return pieces
}

// Union adds every rectangle of other to the region.
func (r *Region) Union(other Region) {
	for _, rect := range other.rects {
		r.Add(rect)
	}
}

// Clear empties the region.
func (r *Region) Clear() {
	r.rects = nil
}

// Clone returns a copy of the region that does not share memory with
// r.
func (r Region) Clone() Region {
	if len(r.rects) == 0 {
		return Region{}
	}
	return Region{rects: append([]image.Rectangle(nil), r.rects...)}
}

// Empty reports whether the region contains no area.
func (r Region) Empty() bool {
	return len(r.rects) == 0
}

// IsFull reports whether the region covers Everything.
func (r Region) IsFull() bool {
	for _, rect := range r.rects {
		if Everything.In(rect) {
			return true
		}
	}
	return false
}

// Len returns the number of rectangles in the region.
func (r Region) Len() int {
	return len(r.rects)
}

// Rects returns a copy of the rectangles that make up the region.
func (r Region) Rects() []image.Rectangle {
	return append([]image.Rectangle(nil), r.rects...)
}

// Bounds returns the smallest rectangle containing the whole region.
func (r Region) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, rect := range r.rects {
		b = b.Union(rect)
	}
	return b
}

// Contains reports whether p lies inside the region.
func (r Region) Contains(p image.Point) bool {
	for _, rect := range r.rects {
		if p.In(rect) {
			return true
		}
	}
	return false
}

// Covers reports whether rect lies entirely inside of a single
// rectangle of the region. It may return false for rectangles that
// are covered by a combination of several of them.
func (r Region) Covers(rect image.Rectangle) bool {
	for _, existing := range r.rects {
		if rect.In(existing) {
			return true
		}
	}
	return false
}

// Intersect returns the part of the region inside of clip.
func (r Region) Intersect(clip image.Rectangle) Region {
	var out Region
	for _, rect := range r.rects {
		out.Add(rect.Intersect(clip))
	}
	return out
}

// Translate returns the region moved by p.
func (r Region) Translate(p image.Point) Region {
	if p == (image.Point{}) {
		return r.Clone()
	}

	out := Region{rects: make([]image.Rectangle, 0, len(r.rects))}
	for _, rect := range r.rects {
		if Everything.In(rect) {
			out.rects = append(out.rects, rect)
			continue
		}
		out.rects = append(out.rects, rect.Add(p))
	}
	return out
}

// Scale returns the region with every coordinate multiplied by n.
func (r Region) Scale(n int) Region {
	if n == 1 {
		return r.Clone()
	}

	out := Region{rects: make([]image.Rectangle, 0, len(r.rects))}
	for _, rect := range r.rects {
		if Everything.In(rect) {
			out.rects = append(out.rects, rect)
			continue
		}
		out.rects = append(out.rects, image.Rectangle{Min: rect.Min.Mul(n), Max: rect.Max.Mul(n)})
	}
	return out
}

// ScaleDown returns the region with every coordinate divided by n,
// rounding outwards so that the result still covers the original
// area.
func (r Region) ScaleDown(n int) Region {
	if n <= 1 {
		return r.Clone()
	}

	out := Region{rects: make([]image.Rectangle, 0, len(r.rects))}
	for _, rect := range r.rects {
		if Everything.In(rect) {
			out.rects = append(out.rects, rect)
			continue
		}
		out.rects = append(out.rects, image.Rect(
			floorDiv(rect.Min.X, n),
			floorDiv(rect.Min.Y, n),
			ceilDiv(rect.Max.X, n),
			ceilDiv(rect.Max.Y, n),
		))
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}

func (r Region) String() string {
	if r.IsFull() {
		return "{full}"
	}

	parts := make([]string, 0, len(r.rects))
	for _, rect := range r.rects {
		parts = append(parts, rect.String())
	}
	return fmt.Sprintf("{%v}", strings.Join(parts, " "))
}
