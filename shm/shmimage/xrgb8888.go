// Package shmimage provides image.Image views of pixel formats found
// in shared memory buffers that the standard library does not cover.
package shmimage

import (
	"image"
	"image/color"

	"deedles.dev/wlkit/internal/bin"
)

// XRGB8888 is an in-memory image of 32-bit pixels whose top byte is
// unused. Every pixel is fully opaque.
type XRGB8888 struct {
	// Pix holds the image's pixels as native endian uint32 values. The
	// pixel at (x, y) starts at Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*4].
	Pix []uint8
	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	Stride int
	// Rect is the image's bounds.
	Rect image.Rectangle
}

func (p *XRGB8888) Bounds() image.Rectangle { return p.Rect }

func (p *XRGB8888) ColorModel() color.Model { return XRGB8888Model }

func (p *XRGB8888) At(x, y int) color.Color {
	return p.XRGB8888At(x, y)
}

func (p *XRGB8888) XRGB8888At(x, y int) XRGB8888Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return XRGB8888Color(0)
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+4 : i+4] // Small cap improves performance, see https://golang.org/issue/27857
	return bin.Value[XRGB8888Color](*(*[4]byte)(s))
}

// PixOffset returns the index of the first element of Pix that corresponds to
// the pixel at (x, y).
func (p *XRGB8888) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

// SubImage returns an image representing the portion of the image p visible
// through r. The returned value shares pixels with the original image.
func (p *XRGB8888) SubImage(r image.Rectangle) image.Image {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return &XRGB8888{}
	}
	i := p.PixOffset(r.Min.X, r.Min.Y)
	return &XRGB8888{
		Pix:    p.Pix[i:],
		Stride: p.Stride,
		Rect:   r,
	}
}

// Opaque always returns true.
func (p *XRGB8888) Opaque() bool {
	return true
}
