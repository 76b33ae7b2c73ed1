package shmimage

import "image/color"

type XRGB8888Color uint32

func NewXRGB8888Color(r, g, b uint8) XRGB8888Color {
	return XRGB8888Color((uint32(r) << 16) | (uint32(g) << 8) | uint32(b))
}

func (c XRGB8888Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.r()) * 0x101
	g = uint32(c.g()) * 0x101
	b = uint32(c.b()) * 0x101
	return r, g, b, 0xFFFF
}

func (c XRGB8888Color) r() uint8 {
	return uint8((c & 0x00FF0000) >> 16)
}

func (c XRGB8888Color) g() uint8 {
	return uint8((c & 0x0000FF00) >> 8)
}

func (c XRGB8888Color) b() uint8 {
	return uint8(c & 0x000000FF)
}

var XRGB8888Model color.Model = color.ModelFunc(xrgb8888Model)

func xrgb8888Model(c color.Color) color.Color {
	if c, ok := c.(XRGB8888Color); ok {
		return c
	}

	r, g, b, _ := c.RGBA()
	return NewXRGB8888Color(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}
