// Package rendertest provides a renderer for tests that records what it
// is asked to do instead of drawing anything.
package rendertest

import (
	"context"
	"image"
	"slices"
	"sync"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/render"
	"github.com/gogpu/gputypes"
)

// Call is a recorded render pass.
type Call struct {
	Target   render.Target
	Elements []render.Element
	Damage   region.Region
}

// Renderer is a scripted render.Renderer. It is safe for concurrent
// use.
type Renderer struct {
	m       sync.Mutex
	formats buffer.FormatSet
	calls   []Call
	fail    []error
	resets  int
	targets int
	gate    chan struct{}
}

// New returns a Renderer that supports linear ARGB8888 and XRGB8888
// buffers.
func New() *Renderer {
	return &Renderer{
		formats: buffer.NewFormatSet(
			buffer.FormatModifier{Format: buffer.ARGB8888, Modifier: buffer.ModifierLinear},
			buffer.FormatModifier{Format: buffer.XRGB8888, Modifier: buffer.ModifierLinear},
		),
	}
}

func (r *Renderer) Formats() buffer.FormatSet {
	r.m.Lock()
	defer r.m.Unlock()
	return r.formats.Clone()
}

// SetFormats replaces the supported formats.
func (r *Renderer) SetFormats(formats buffer.FormatSet) {
	r.m.Lock()
	defer r.m.Unlock()
	r.formats = formats.Clone()
}

// Texture is the texture type returned by Renderer.
type Texture struct {
	Buf *buffer.Buffer
}

func (t *Texture) Size() image.Point     { return t.Buf.Size() }
func (t *Texture) Format() buffer.Format { return t.Buf.Format() }

func (r *Renderer) ImportBuffer(buf *buffer.Buffer) (render.Texture, error) {
	r.m.Lock()
	defer r.m.Unlock()

	if !r.formats.Has(buf.Format(), buf.Modifier()) {
		return nil, buffer.UnsupportedFormatError{Format: buf.Format(), Modifier: buf.Modifier()}
	}
	return &Texture{Buf: buf}, nil
}

// Target is the target type returned by Renderer.
type Target struct {
	Buf *buffer.Buffer
	// N is the number of targets that the renderer had created before
	// this one.
	N int
}

func (t *Target) Buffer() *buffer.Buffer         { return t.Buf }
func (t *Target) Size() image.Point              { return t.Buf.Size() }
func (t *Target) Format() gputypes.TextureFormat { return t.Buf.Format().TextureFormat() }

func (r *Renderer) NewTarget(size image.Point, format buffer.Format) (render.Target, error) {
	buf, err := buffer.NewOffscreen(size.X, size.Y, format)
	if err != nil {
		return nil, err
	}

	r.m.Lock()
	defer r.m.Unlock()
	r.targets++
	return &Target{Buf: buf, N: r.targets - 1}, nil
}

// Render records the call. If a failure has been queued with Fail, it
// is returned instead. If the renderer is held, Render blocks until it
// is released or ctx is canceled.
func (r *Renderer) Render(ctx context.Context, target render.Target, elements []render.Element, damage region.Region) error {
	r.m.Lock()
	gate := r.gate
	r.m.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.m.Lock()
	defer r.m.Unlock()

	r.calls = append(r.calls, Call{
		Target:   target,
		Elements: slices.Clone(elements),
		Damage:   damage.Clone(),
	})

	if len(r.fail) > 0 {
		err := r.fail[0]
		r.fail = r.fail[1:]
		return err
	}
	return nil
}

// Fail queues err to be returned by a future call to Render. Errors
// are returned in the order they were queued.
func (r *Renderer) Fail(err error) {
	r.m.Lock()
	defer r.m.Unlock()
	r.fail = append(r.fail, err)
}

// Hold makes calls to Render block until the returned function is
// called.
func (r *Renderer) Hold() (release func()) {
	gate := make(chan struct{})

	r.m.Lock()
	r.gate = gate
	r.m.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.m.Lock()
			r.gate = nil
			r.m.Unlock()
			close(gate)
		})
	}
}

// Calls returns every recorded render pass.
func (r *Renderer) Calls() []Call {
	r.m.Lock()
	defer r.m.Unlock()
	return slices.Clone(r.calls)
}

// Last returns the most recent render pass.
func (r *Renderer) Last() (Call, bool) {
	r.m.Lock()
	defer r.m.Unlock()

	if len(r.calls) == 0 {
		return Call{}, false
	}
	return r.calls[len(r.calls)-1], true
}

func (r *Renderer) Reset() error {
	r.m.Lock()
	defer r.m.Unlock()
	r.resets++
	return nil
}

// Resets returns the number of times Reset has been called.
func (r *Renderer) Resets() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.resets
}

func (r *Renderer) Generation() uint64 {
	r.m.Lock()
	defer r.m.Unlock()
	return uint64(r.resets)
}
