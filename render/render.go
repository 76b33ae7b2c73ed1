// Package render defines the interface between the output pipeline and
// the backends that composite frames.
//
// A Renderer composites an ordered list of Elements, back to front,
// into a Target. Only the area inside of the damage region passed to
// Render is guaranteed to be updated; what happens to pixels outside of
// it is up to the backend. Renderers must be safe to call from a
// goroutine other than the event loop, but a single Target is never
// rendered to by two goroutines at once.
package render

import (
	"context"
	"errors"
	"image"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/region"
	"github.com/gogpu/gputypes"
)

var (
	// ErrContextLost is returned when a backend must be fully
	// re-initialized before it can render again. The frame that was
	// being rendered is lost.
	ErrContextLost = errors.New("render context lost")

	// ErrOutOfMemory is returned when a backend can not allocate what a
	// frame needs. The frame is dropped.
	ErrOutOfMemory = errors.New("render out of memory")
)

// Renderer is a compositing backend.
type Renderer interface {
	// Formats returns the buffer formats that ImportBuffer accepts.
	Formats() buffer.FormatSet

	// ImportBuffer prepares buf to be sampled. It is called on the
	// event loop. The returned texture must stay valid for the
	// duration of a render pass even if buf is released in the
	// meantime.
	ImportBuffer(buf *buffer.Buffer) (Texture, error)

	// NewTarget allocates an offscreen target to render into.
	NewTarget(size image.Point, format buffer.Format) (Target, error)

	// Render composites elements into target inside of damage. It
	// waits for every element's Acquire fence before reading from its
	// texture.
	Render(ctx context.Context, target Target, elements []Element, damage region.Region) error
}

// Resetter is implemented by renderers that can recover from
// ErrContextLost. Textures and targets created before a call to Reset
// must not be used after it.
type Resetter interface {
	Reset() error

	// Generation is incremented by every call to Reset.
	Generation() uint64
}

// Texture is a backend-specific handle to the content of a buffer.
type Texture interface {
	Size() image.Point
	Format() buffer.Format
}

// Target is a destination for a render pass.
type Target interface {
	// Buffer returns the memory that the target renders into, which is
	// what gets handed to a display for scanout.
	Buffer() *buffer.Buffer
	Size() image.Point
	Format() gputypes.TextureFormat
}

// Reset calls r's Reset method if it has one.
func Reset(r Renderer) error {
	if r, ok := r.(Resetter); ok {
		return r.Reset()
	}
	return nil
}

// Generation returns r's generation, or zero if it can not be reset.
// A renderer that is shared between outputs can be reset because of
// any one of them, so users compare generations to notice a reset
// that they did not ask for.
func Generation(r Renderer) uint64 {
	if r, ok := r.(Resetter); ok {
		return r.Generation()
	}
	return 0
}
