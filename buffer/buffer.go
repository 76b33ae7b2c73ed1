// Package buffer unifies the different kinds of pixel buffers that a
// compositor deals with: client shared memory buffers, GPU buffers
// shared across process boundaries and offscreen targets produced by
// a renderer.
//
// Buffers are shared between a surface's state and any number of
// in-flight frames. Holders take a lock with Lock and render passes
// take read guards with AcquireRead. The client that produced a buffer
// is told it may reuse it, via the function registered with OnRelease,
// only once neither remain. Buffers are not safe for concurrent use and
// must only be touched from the compositor's event loop.
package buffer

import (
	"fmt"
	"image"
	"os"

	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/shm"
)

// Kind is the kind of memory backing a buffer.
type Kind uint8

const (
	KindShm Kind = iota
	KindDmabuf
	KindOffscreen
)

func (k Kind) String() string {
	switch k {
	case KindShm:
		return "shm"
	case KindDmabuf:
		return "dmabuf"
	case KindOffscreen:
		return "offscreen"
	}
	return "unknown"
}

// Plane is a single plane of a GPU buffer.
type Plane struct {
	File   *os.File
	Offset int
	Stride int
}

// Buffer is a pixel payload of a known size and format.
type Buffer struct {
	id       registry.ID
	kind     Kind
	width    int
	height   int
	format   Format
	modifier Modifier

	pool   *shm.Pool
	offset int
	stride int
	pix    []byte
	planes []Plane

	locks      int
	guards     int
	generation uint64
	busy       bool
	destroyed  bool
	freed      bool

	onRelease []func()
	onFree    []func()
}

// NewOffscreen allocates a buffer in compositor memory, such as a
// render target.
func NewOffscreen(width, height int, format Format) (*Buffer, error) {
	bpp := format.BytesPerPixel()
	if (bpp == 0) || (width <= 0) || (height <= 0) {
		return nil, fmt.Errorf("offscreen %vx%v %v: %w", width, height, format, ErrInvalidDescriptor)
	}

	return &Buffer{
		kind:     KindOffscreen,
		width:    width,
		height:   height,
		format:   format,
		modifier: ModifierLinear,
		stride:   width * bpp,
		pix:      make([]byte, width*height*bpp),
	}, nil
}

func (b *Buffer) ID() registry.ID    { return b.id }
func (b *Buffer) Kind() Kind         { return b.kind }
func (b *Buffer) Width() int         { return b.width }
func (b *Buffer) Height() int        { return b.height }
func (b *Buffer) Format() Format     { return b.format }
func (b *Buffer) Modifier() Modifier { return b.modifier }
func (b *Buffer) Planes() []Plane    { return b.planes }

// Size returns the buffer's dimensions in pixels.
func (b *Buffer) Size() image.Point {
	return image.Pt(b.width, b.height)
}

// Destroyed reports whether the buffer's client has destroyed it.
func (b *Buffer) Destroyed() bool {
	return b.destroyed
}

// Stride returns the number of bytes between rows for single-plane
// buffers.
func (b *Buffer) Stride() int {
	if (b.kind == KindDmabuf) && (len(b.planes) > 0) {
		return b.planes[0].Stride
	}
	return b.stride
}

// Pixels returns the buffer's memory for buffers that can be read by
// the CPU. It returns nil for GPU buffers.
func (b *Buffer) Pixels() ([]byte, error) {
	if b.freed {
		panic(fmt.Errorf("pixels of freed %v buffer %v", b.kind, b.id))
	}

	switch b.kind {
	case KindShm:
		return b.pool.Bytes(b.offset, b.stride*b.height)
	case KindOffscreen:
		return b.pix, nil
	}
	return nil, nil
}

// Generation returns a counter that is increased every time new
// content is committed with the buffer.
func (b *Buffer) Generation() uint64 {
	return b.generation
}

// Commit marks the buffer's content as handed to the compositor. It
// starts a new content generation and makes the buffer busy until it
// is released.
func (b *Buffer) Commit() {
	b.generation++
	b.busy = true
}

// Busy reports whether the compositor still owes the client a release
// for the buffer's current content.
func (b *Buffer) Busy() bool {
	return b.busy
}

// Lock adds a holder to the buffer.
func (b *Buffer) Lock() {
	if b.freed {
		panic(fmt.Errorf("lock of freed %v buffer %v", b.kind, b.id))
	}
	b.locks++
}

// Unlock removes a holder added with Lock.
func (b *Buffer) Unlock() {
	if b.locks == 0 {
		panic(fmt.Errorf("unbalanced unlock of %v buffer %v", b.kind, b.id))
	}
	b.locks--
	b.settle()
}

// Locks returns the number of holders.
func (b *Buffer) Locks() int {
	return b.locks
}

// Readers returns the number of outstanding read guards.
func (b *Buffer) Readers() int {
	return b.guards
}

// OnRelease registers f to be called every time the buffer stops being
// used by the compositor. This is where wl_buffer.release is sent.
func (b *Buffer) OnRelease(f func()) {
	b.onRelease = append(b.onRelease, f)
}

// OnFree registers f to be called once the buffer's memory is no
// longer referenced after it has been destroyed.
func (b *Buffer) OnFree(f func()) {
	b.onFree = append(b.onFree, f)
}

// Destroy marks the buffer as destroyed by its client. Its memory stays
// valid until every holder and guard is gone.
func (b *Buffer) Destroy() {
	b.destroyed = true
	b.settle()
}

func (b *Buffer) settle() {
	if (b.locks > 0) || (b.guards > 0) {
		return
	}

	if b.busy {
		b.busy = false
		if !b.destroyed {
			for _, f := range b.onRelease {
				f()
			}
		}
	}

	if b.destroyed && !b.freed {
		b.freed = true
		if b.pool != nil {
			b.pool.Unref()
		}
		b.pix = nil
		for _, f := range b.onFree {
			f()
		}
	}
}

// Guard is scoped read access to a buffer's content. The buffer will
// not be released to its producer while a guard is outstanding.
type Guard struct {
	buf        *Buffer
	generation uint64
	fence      Fence
	released   bool
}

// AcquireRead returns a guard for the buffer's current content. If
// acquire is not nil, the content is not ready to be sampled until it
// is signaled, and the renderer must wait on the guard's Fence first.
func (b *Buffer) AcquireRead(acquire Fence) *Guard {
	if b.freed {
		panic(fmt.Errorf("read of freed %v buffer %v", b.kind, b.id))
	}
	if acquire == nil {
		acquire = Ready()
	}

	b.guards++
	return &Guard{
		buf:        b,
		generation: b.generation,
		fence:      acquire,
	}
}

func (g *Guard) Buffer() *Buffer {
	return g.buf
}

// Generation returns the content generation the guard was taken for.
func (g *Guard) Generation() uint64 {
	return g.generation
}

// Fence returns the fence that must be signaled before the guarded
// content is read.
func (g *Guard) Fence() Fence {
	return g.fence
}

// Release ends the guard. Releasing a guard twice has no effect.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true

	g.buf.guards--
	g.buf.settle()
}
