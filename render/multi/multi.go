// Package multi implements a renderer that drives several other
// renderers at once, such as one per GPU in a machine with displays
// attached to more than one of them.
package multi

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/render"
	"github.com/gogpu/gputypes"
	"golang.org/x/sync/errgroup"
)

// ErrNoRenderers is returned by New when it is given nothing to
// dispatch to.
var ErrNoRenderers = errors.New("no renderers")

type device struct {
	r render.Renderer
	// m serializes submissions to the device so that frames reach it in
	// the order that they were rendered.
	m sync.Mutex
}

// Renderer fans every render pass out to each of its devices
// concurrently. Textures and targets it creates hold one
// device-specific object per device.
type Renderer struct {
	devices []*device
	formats buffer.FormatSet
	gen     atomic.Uint64
}

// New returns a Renderer that dispatches to renderers. The first one
// is the primary device whose target buffers are returned by
// Target.Buffer.
func New(renderers ...render.Renderer) (*Renderer, error) {
	if len(renderers) == 0 {
		return nil, ErrNoRenderers
	}

	devices := make([]*device, 0, len(renderers))
	formats := renderers[0].Formats()
	for _, r := range renderers {
		devices = append(devices, &device{r: r})
		formats = formats.Intersect(r.Formats())
	}

	return &Renderer{
		devices: devices,
		formats: formats,
	}, nil
}

// Formats returns the formats supported by every device.
func (r *Renderer) Formats() buffer.FormatSet {
	return r.formats.Clone()
}

// Texture holds a texture for each device.
type Texture struct {
	textures []render.Texture
}

func (t *Texture) Size() image.Point     { return t.textures[0].Size() }
func (t *Texture) Format() buffer.Format { return t.textures[0].Format() }

// Device returns the texture belonging to the ith device.
func (t *Texture) Device(i int) render.Texture {
	return t.textures[i]
}

func (r *Renderer) ImportBuffer(buf *buffer.Buffer) (render.Texture, error) {
	textures := make([]render.Texture, 0, len(r.devices))
	for i, d := range r.devices {
		tex, err := d.r.ImportBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("device %v: %w", i, err)
		}
		textures = append(textures, tex)
	}
	return &Texture{textures: textures}, nil
}

// Target holds a target for each device.
type Target struct {
	targets []render.Target
}

func (t *Target) Buffer() *buffer.Buffer         { return t.targets[0].Buffer() }
func (t *Target) Size() image.Point              { return t.targets[0].Size() }
func (t *Target) Format() gputypes.TextureFormat { return t.targets[0].Format() }

// Device returns the target belonging to the ith device.
func (t *Target) Device(i int) render.Target {
	return t.targets[i]
}

func (r *Renderer) NewTarget(size image.Point, format buffer.Format) (render.Target, error) {
	targets := make([]render.Target, 0, len(r.devices))
	for i, d := range r.devices {
		t, err := d.r.NewTarget(size, format)
		if err != nil {
			return nil, fmt.Errorf("device %v: %w", i, err)
		}
		targets = append(targets, t)
	}
	return &Target{targets: targets}, nil
}

// Render renders elements on every device at once. If any device
// fails, the others are canceled and the first error is returned.
func (r *Renderer) Render(ctx context.Context, t render.Target, elements []render.Element, damage region.Region) error {
	target, ok := t.(*Target)
	if !ok || (len(target.targets) != len(r.devices)) {
		return fmt.Errorf("render to %T: target was not created by this renderer", t)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i, d := range r.devices {
		elements := project(elements, i)
		eg.Go(func() error {
			d.m.Lock()
			defer d.m.Unlock()

			err := d.r.Render(ctx, target.targets[i], elements, damage)
			if err != nil {
				return fmt.Errorf("device %v: %w", i, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// project returns a copy of elements with every texture replaced by the
// one belonging to the ith device.
func project(elements []render.Element, i int) []render.Element {
	out := make([]render.Element, len(elements))
	for j, e := range elements {
		if tex, ok := e.Texture.(*Texture); ok {
			e.Texture = tex.textures[i]
		}
		out[j] = e
	}
	return out
}

// Reset resets every device that supports it.
func (r *Renderer) Reset() error {
	defer r.gen.Add(1)

	var errs []error
	for i, d := range r.devices {
		d.m.Lock()
		err := render.Reset(d.r)
		d.m.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("device %v: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Renderer) Generation() uint64 {
	return r.gen.Load()
}
