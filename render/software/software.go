// Package software implements a renderer that composites on the CPU
// with golang.org/x/image/draw.
package software

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/shm/shmimage"
	ximage "deedles.dev/ximage/format"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
)

// ErrForeignObject is returned when a texture or target created by a
// different renderer is passed to Render.
var ErrForeignObject = errors.New("object belongs to a different renderer")

var formats = []buffer.Format{
	buffer.ARGB8888,
	buffer.XRGB8888,
	buffer.ABGR8888,
}

// Renderer is a CPU compositor. It is stateless between render passes
// and may be used by several goroutines at once.
type Renderer struct {
	clear   color.Color
	scaler  draw.Scaler
	formats buffer.FormatSet
}

type Option func(*Renderer)

// WithClearColor sets the color that damaged areas are filled with
// before elements are drawn. The default is black.
func WithClearColor(c color.Color) Option {
	return func(r *Renderer) {
		r.clear = c
	}
}

// WithScaler sets the interpolator used for elements whose source and
// destination sizes differ.
func WithScaler(s draw.Scaler) Option {
	return func(r *Renderer) {
		r.scaler = s
	}
}

func New(opts ...Option) *Renderer {
	r := Renderer{
		clear:   colornames.Black,
		scaler:  draw.ApproxBiLinear,
		formats: buffer.NewFormatSet(),
	}
	for _, f := range formats {
		r.formats.Add(f, buffer.ModifierLinear)
	}
	for _, opt := range opts {
		opt(&r)
	}
	return &r
}

func (r *Renderer) Formats() buffer.FormatSet {
	return r.formats.Clone()
}

type texture struct {
	img    image.Image
	format buffer.Format
}

func (t *texture) Size() image.Point     { return t.img.Bounds().Size() }
func (t *texture) Format() buffer.Format { return t.format }

// ImportBuffer wraps the buffer's memory in an image. No pixels are
// copied unless the buffer's stride can not be expressed by the
// image type for its format.
func (r *Renderer) ImportBuffer(buf *buffer.Buffer) (render.Texture, error) {
	if !r.formats.Has(buf.Format(), buf.Modifier()) || (buf.Kind() == buffer.KindDmabuf) {
		return nil, buffer.UnsupportedFormatError{Format: buf.Format(), Modifier: buf.Modifier()}
	}

	pix, err := buf.Pixels()
	if err != nil {
		return nil, fmt.Errorf("import %v: %w", buf.ID(), err)
	}

	bounds := image.Rectangle{Max: buf.Size()}
	switch buf.Format() {
	case buffer.ARGB8888:
		return &texture{
			img: &ximage.Image{
				Format: ximage.ARGB8888,
				Rect:   bounds,
				Pix:    tight(pix, buf.Stride(), bounds.Dx()*4, bounds.Dy()),
			},
			format: buf.Format(),
		}, nil

	case buffer.XRGB8888:
		return &texture{
			img:    &shmimage.XRGB8888{Pix: pix, Stride: buf.Stride(), Rect: bounds},
			format: buf.Format(),
		}, nil

	case buffer.ABGR8888:
		return &texture{
			img:    &image.RGBA{Pix: pix, Stride: buf.Stride(), Rect: bounds},
			format: buf.Format(),
		}, nil
	}

	panic(fmt.Errorf("format %v in supported set without an image type", buf.Format()))
}

// tight returns pix with rows of length row bytes laid out back to
// back, copying only if stride has padding.
func tight(pix []byte, stride, row, rows int) []byte {
	if stride == row {
		return pix
	}

	out := make([]byte, row*rows)
	for y := range rows {
		copy(out[y*row:(y+1)*row], pix[y*stride:])
	}
	return out
}

type target struct {
	buf *buffer.Buffer
	img draw.Image
}

func (t *target) Buffer() *buffer.Buffer         { return t.buf }
func (t *target) Size() image.Point              { return t.buf.Size() }
func (t *target) Format() gputypes.TextureFormat { return t.buf.Format().TextureFormat() }

// NewTarget allocates a target in system memory. Only 32-bit formats
// with the alpha or padding byte first are supported.
func (r *Renderer) NewTarget(size image.Point, format buffer.Format) (render.Target, error) {
	if (format != buffer.ARGB8888) && (format != buffer.XRGB8888) {
		return nil, buffer.UnsupportedFormatError{Format: format, Modifier: buffer.ModifierLinear}
	}

	buf, err := buffer.NewOffscreen(size.X, size.Y, format)
	if err != nil {
		return nil, fmt.Errorf("new target: %w", err)
	}
	pix, _ := buf.Pixels()

	return &target{
		buf: buf,
		img: &ximage.Image{
			Format: ximage.ARGB8888,
			Rect:   image.Rectangle{Max: size},
			Pix:    pix,
		},
	}, nil
}

// Render implements render.Renderer.
func (r *Renderer) Render(ctx context.Context, t render.Target, elements []render.Element, damage region.Region) error {
	dst, ok := t.(*target)
	if !ok {
		return fmt.Errorf("render to %T: %w", t, ErrForeignObject)
	}

	for i := range elements {
		if err := buffer.Wait(ctx, elements[i].Acquire); err != nil {
			return fmt.Errorf("wait for element %v: %w", i, err)
		}
	}

	bg := image.NewUniform(r.clear)
	for _, clip := range damage.Intersect(dst.img.Bounds()).Rects() {
		if err := ctx.Err(); err != nil {
			return err
		}

		draw.Draw(dst.img, clip, bg, image.Point{}, draw.Src)
		for i := range elements {
			if err := r.draw(dst.img, &elements[i], clip); err != nil {
				return fmt.Errorf("draw element %v: %w", i, err)
			}
		}
	}
	return nil
}

func (r *Renderer) draw(dst draw.Image, e *render.Element, clip image.Rectangle) error {
	area := e.Visible().Intersect(clip)
	if area.Empty() || (e.Opacity <= 0) {
		return nil
	}
	mask := newClipMask(area, e.Opacity)

	if e.Texture == nil {
		if e.Color == nil {
			return nil
		}
		draw.DrawMask(dst, area, image.NewUniform(e.Color), image.Point{}, mask, area.Min, draw.Over)
		return nil
	}

	tex, ok := e.Texture.(*texture)
	if !ok {
		return fmt.Errorf("texture %T: %w", e.Texture, ErrForeignObject)
	}

	src := tex.img
	sr := e.Source()
	if sr.Empty() {
		sr = image.Rectangle{Max: tex.Size()}
	}
	if e.Transform != geom.TransformNormal {
		src = newTransformed(src, e.Transform)
		sr = e.Transform.Rect(sr, tex.Size())
	}

	if sr.Size() == e.Dst.Size() {
		sp := sr.Min.Add(area.Min.Sub(e.Dst.Min))
		draw.DrawMask(dst, area, src, sp, mask, area.Min, draw.Over)
		return nil
	}

	r.scaler.Scale(dst, e.Dst, src, sr, draw.Over, &draw.Options{
		DstMask:  mask,
		DstMaskP: e.Dst.Min,
	})
	return nil
}
