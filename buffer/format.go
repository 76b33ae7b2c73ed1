package buffer

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"golang.org/x/exp/maps"
)

// Format is a DRM fourcc pixel format code.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(uint32(a) | (uint32(b) << 8) | (uint32(c) << 16) | (uint32(d) << 24))
}

var (
	ARGB8888 = fourcc('A', 'R', '2', '4')
	XRGB8888 = fourcc('X', 'R', '2', '4')
	ABGR8888 = fourcc('A', 'B', '2', '4')
	XBGR8888 = fourcc('X', 'B', '2', '4')
	RGB565   = fourcc('R', 'G', '1', '6')
)

// wl_shm uses 0 and 1 for the two formats every compositor must
// support instead of their fourcc codes.
const (
	shmARGB8888 = 0
	shmXRGB8888 = 1
)

// FromShm converts a wl_shm format code into a Format.
func FromShm(code uint32) Format {
	switch code {
	case shmARGB8888:
		return ARGB8888
	case shmXRGB8888:
		return XRGB8888
	}
	return Format(code)
}

// ShmCode converts f into the code used by wl_shm to announce it.
func (f Format) ShmCode() uint32 {
	switch f {
	case ARGB8888:
		return shmARGB8888
	case XRGB8888:
		return shmXRGB8888
	}
	return uint32(f)
}

// BytesPerPixel returns the size of a single pixel, or 0 if the format
// is not known.
func (f Format) BytesPerPixel() int {
	switch f {
	case ARGB8888, XRGB8888, ABGR8888, XBGR8888:
		return 4
	case RGB565:
		return 2
	}
	return 0
}

// HasAlpha reports whether the format carries an alpha channel.
func (f Format) HasAlpha() bool {
	switch f {
	case ARGB8888, ABGR8888:
		return true
	}
	return false
}

// TextureFormat returns the GPU texture format with the same memory
// layout as f, or gputypes.TextureFormatUndefined if there is none.
func (f Format) TextureFormat() gputypes.TextureFormat {
	switch f {
	case ARGB8888, XRGB8888:
		return gputypes.TextureFormatBGRA8Unorm
	case ABGR8888, XBGR8888:
		return gputypes.TextureFormatRGBA8Unorm
	}
	return gputypes.TextureFormatUndefined
}

func (f Format) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if (c < 0x20) || (c > 0x7e) {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}

// Modifier describes the memory layout of a GPU buffer.
type Modifier uint64

const (
	ModifierLinear  Modifier = 0
	ModifierInvalid Modifier = 0x00ffffffffffffff
)

// FormatModifier is a pair of a format and a modifier that a renderer
// or display device is able to handle.
type FormatModifier struct {
	Format   Format
	Modifier Modifier
}

// FormatSet is a set of supported format/modifier pairs.
type FormatSet map[FormatModifier]struct{}

// NewFormatSet returns a set containing the given pairs.
func NewFormatSet(pairs ...FormatModifier) FormatSet {
	s := make(FormatSet, len(pairs))
	for _, p := range pairs {
		s.Add(p.Format, p.Modifier)
	}
	return s
}

func (s FormatSet) Add(f Format, m Modifier) {
	s[FormatModifier{Format: f, Modifier: m}] = struct{}{}
}

// Has reports whether the exact pair is supported.
func (s FormatSet) Has(f Format, m Modifier) bool {
	_, ok := s[FormatModifier{Format: f, Modifier: m}]
	return ok
}

// HasFormat reports whether f is supported with any modifier.
func (s FormatSet) HasFormat(f Format) bool {
	for p := range s {
		if p.Format == f {
			return true
		}
	}
	return false
}

func (s FormatSet) Clone() FormatSet {
	return maps.Clone(s)
}

// Intersect returns the pairs supported by both s and other.
func (s FormatSet) Intersect(other FormatSet) FormatSet {
	out := make(FormatSet)
	for p := range s {
		if _, ok := other[p]; ok {
			out[p] = struct{}{}
		}
	}
	return out
}

// Formats returns the distinct formats in the set in ascending order.
func (s FormatSet) Formats() []Format {
	seen := make(map[Format]struct{}, len(s))
	for p := range s {
		seen[p.Format] = struct{}{}
	}

	formats := make([]Format, 0, len(seen))
	for f := range seen {
		formats = append(formats, f)
	}
	slices.Sort(formats)
	return formats
}
