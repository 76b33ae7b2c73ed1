// Package geom contains the coordinate transformations shared by
// surfaces and outputs.
package geom

import (
	"fmt"
	"image"
)

// Transform is a rotation and optional flip, with the same values as
// wl_output.transform.
type Transform uint32

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Valid reports whether t is one of the defined transforms.
func (t Transform) Valid() bool {
	return t <= TransformFlipped270
}

// Swaps reports whether t exchanges width and height.
func (t Transform) Swaps() bool {
	switch t {
	case Transform90, Transform270, TransformFlipped90, TransformFlipped270:
		return true
	}
	return false
}

// Invert returns the transform that undoes t.
func (t Transform) Invert() Transform {
	switch t {
	case Transform90:
		return Transform270
	case Transform270:
		return Transform90
	}
	return t
}

// Size returns the size of an area of the given size after t has been
// applied to it.
func (t Transform) Size(size image.Point) image.Point {
	if t.Swaps() {
		return image.Pt(size.Y, size.X)
	}
	return size
}

// Point maps p, a point inside of an area of the given size, through
// t.
func (t Transform) Point(p, area image.Point) image.Point {
	switch t {
	case Transform90:
		return image.Pt(area.Y-p.Y, p.X)
	case Transform180:
		return image.Pt(area.X-p.X, area.Y-p.Y)
	case Transform270:
		return image.Pt(p.Y, area.X-p.X)
	case TransformFlipped:
		return image.Pt(area.X-p.X, p.Y)
	case TransformFlipped90:
		return image.Pt(p.Y, p.X)
	case TransformFlipped180:
		return image.Pt(p.X, area.Y-p.Y)
	case TransformFlipped270:
		return image.Pt(area.Y-p.Y, area.X-p.X)
	}
	return p
}

// Rect maps r, a rectangle inside of an area of the given size,
// through t.
func (t Transform) Rect(r image.Rectangle, area image.Point) image.Rectangle {
	if t == TransformNormal {
		return r
	}

	return image.Rectangle{
		Min: t.Point(r.Min, area),
		Max: t.Point(r.Max, area),
	}.Canon()
}

func (t Transform) String() string {
	switch t {
	case TransformNormal:
		return "normal"
	case Transform90:
		return "90"
	case Transform180:
		return "180"
	case Transform270:
		return "270"
	case TransformFlipped:
		return "flipped"
	case TransformFlipped90:
		return "flipped-90"
	case TransformFlipped180:
		return "flipped-180"
	case TransformFlipped270:
		return "flipped-270"
	}
	return "invalid"
}

// ParseTransform returns the transform named str, as returned by
// String. The empty string is the normal transform.
func ParseTransform(str string) (Transform, error) {
	if str == "" {
		return TransformNormal, nil
	}
	for t := TransformNormal; t.Valid(); t++ {
		if t.String() == str {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transform %q", str)
}

// ScaleRect multiplies every coordinate of r by n.
func ScaleRect(r image.Rectangle, n int) image.Rectangle {
	return image.Rectangle{Min: r.Min.Mul(n), Max: r.Max.Mul(n)}
}

var composed = func() (table [8][8]Transform) {
	area := image.Pt(3, 2)
	unit := image.Rect(0, 0, 1, 1)
	for a := TransformNormal; a <= TransformFlipped270; a++ {
		for b := TransformNormal; b <= TransformFlipped270; b++ {
			want := b.Rect(a.Rect(unit, area), a.Size(area))
			for c := TransformNormal; c <= TransformFlipped270; c++ {
				if (c.Rect(unit, area) == want) && (c.Size(area) == b.Size(a.Size(area))) {
					table[a][b] = c
					break
				}
			}
		}
	}
	return table
}()

// Then returns the transform equivalent to applying t followed by
// next.
func (t Transform) Then(next Transform) Transform {
	if !t.Valid() || !next.Valid() {
		panic("invalid transform")
	}
	return composed[t][next]
}
