// Package desktop arranges surfaces in a global coordinate space and
// turns them into render elements for each output.
package desktop

import (
	"image"
	"slices"

	"deedles.dev/wlkit/internal/logger"
	"deedles.dev/wlkit/output"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/surface"
	"github.com/charmbracelet/log"
)

// Layer is a stacking layer of an output. Layers are drawn in order,
// with windows between LayerBottom and LayerTop.
type Layer uint8

const (
	LayerBackground Layer = iota
	LayerBottom
	LayerTop
	LayerOverlay
)

func (l Layer) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerBottom:
		return "bottom"
	case LayerTop:
		return "top"
	case LayerOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// Window is a surface tree placed in the space.
type Window struct {
	surface  *surface.Surface
	location image.Point
}

func NewWindow(s *surface.Surface) *Window {
	return &Window{surface: s}
}

func (w *Window) Surface() *surface.Surface {
	return w.surface
}

func (w *Window) Location() image.Point {
	return w.location
}

// Geometry returns the area covered by every mapped surface of the
// window's tree.
func (w *Window) Geometry() image.Rectangle {
	return treeBounds(w.surface, w.location)
}

func treeBounds(root *surface.Surface, origin image.Point) (r image.Rectangle) {
	root.Walk(origin, func(s *surface.Surface, loc image.Point) bool {
		r = r.Union(s.Bounds().Add(loc))
		return true
	})
	return r
}

// LayerSurface is a surface attached to a layer of a single output.
type LayerSurface struct {
	surface *surface.Surface
	output  *output.Output
	layer   Layer
	// position is relative to the output.
	position image.Point
}

func (ls *LayerSurface) Surface() *surface.Surface { return ls.surface }
func (ls *LayerSurface) Output() *output.Output    { return ls.output }
func (ls *LayerSurface) Layer() Layer              { return ls.layer }

func (ls *LayerSurface) location() image.Point {
	return ls.output.Location().Add(ls.position)
}

// Space is the global coordinate space that outputs show parts of.
type Space struct {
	log      *log.Logger
	outputs  []*output.Output
	windows  []*Window
	layers   []*LayerSurface
	onChange []func(image.Rectangle)
}

func NewSpace(l *log.Logger) *Space {
	return &Space{log: logger.Or(l).WithPrefix("desktop")}
}

// OnChange registers f to be called with the area of the space that
// needs to be redrawn when the arrangement changes.
func (sp *Space) OnChange(f func(area image.Rectangle)) {
	sp.onChange = append(sp.onChange, f)
}

func (sp *Space) changed(area image.Rectangle) {
	if area.Empty() {
		return
	}
	for _, f := range sp.onChange {
		f(area)
	}
}

func (sp *Space) AddOutput(o *output.Output) {
	if slices.Contains(sp.outputs, o) {
		return
	}
	sp.outputs = append(sp.outputs, o)
}

func (sp *Space) RemoveOutput(o *output.Output) {
	sp.outputs = slices.DeleteFunc(sp.outputs, func(c *output.Output) bool { return c == o })
	sp.layers = slices.DeleteFunc(sp.layers, func(ls *LayerSurface) bool { return ls.output == o })
}

func (sp *Space) Outputs() []*output.Output {
	return slices.Clone(sp.outputs)
}

// Map places w at loc on top of every other window. If w is already
// mapped, it is moved and raised.
func (sp *Space) Map(w *Window, loc image.Point) {
	old := image.Rectangle{}
	if i := slices.Index(sp.windows, w); i >= 0 {
		old = w.Geometry()
		sp.windows = slices.Delete(sp.windows, i, i+1)
	}

	w.location = loc
	sp.windows = append(sp.windows, w)
	sp.log.Debug("map", "surface", w.surface.ID(), "location", loc)
	sp.changed(old.Union(w.Geometry()))
}

// Unmap removes w from the space.
func (sp *Space) Unmap(w *Window) {
	i := slices.Index(sp.windows, w)
	if i < 0 {
		return
	}

	sp.windows = slices.Delete(sp.windows, i, i+1)
	sp.log.Debug("unmap", "surface", w.surface.ID())
	sp.changed(w.Geometry())
}

// Raise moves w above every other window.
func (sp *Space) Raise(w *Window) {
	i := slices.Index(sp.windows, w)
	if (i < 0) || (i == len(sp.windows)-1) {
		return
	}

	sp.windows = append(slices.Delete(sp.windows, i, i+1), w)
	sp.changed(w.Geometry())
}

// Windows returns the mapped windows from bottom to top.
func (sp *Space) Windows() []*Window {
	sp.prune()
	return slices.Clone(sp.windows)
}

// WindowAt returns the topmost window that accepts input at p.
func (sp *Space) WindowAt(p image.Point) (*Window, bool) {
	sp.prune()
	for _, w := range slices.Backward(sp.windows) {
		var hit bool
		w.surface.Walk(w.location, func(s *surface.Surface, loc image.Point) bool {
			local := p.Sub(loc)
			hit = local.In(s.Bounds()) && s.Current().Input.Contains(local)
			return !hit
		})
		if hit {
			return w, true
		}
	}
	return nil, false
}

// OutputsFor returns the outputs that show any part of w.
func (sp *Space) OutputsFor(w *Window) []*output.Output {
	return sp.outputsFor(w.Geometry())
}

func (sp *Space) outputsFor(area image.Rectangle) (outputs []*output.Output) {
	for _, o := range sp.outputs {
		if o.Geometry().Overlaps(area) {
			outputs = append(outputs, o)
		}
	}
	return outputs
}

// MapLayer attaches s to a layer of o at pos, relative to the output.
func (sp *Space) MapLayer(s *surface.Surface, o *output.Output, layer Layer, pos image.Point) *LayerSurface {
	sp.UnmapLayer(s)

	ls := LayerSurface{surface: s, output: o, layer: layer, position: pos}
	sp.layers = append(sp.layers, &ls)
	sp.changed(treeBounds(s, ls.location()))
	return &ls
}

func (sp *Space) UnmapLayer(s *surface.Surface) {
	i := slices.IndexFunc(sp.layers, func(ls *LayerSurface) bool { return ls.surface == s })
	if i < 0 {
		return
	}

	ls := sp.layers[i]
	sp.layers = slices.Delete(sp.layers, i, i+1)
	sp.changed(treeBounds(s, ls.location()))
}

// prune drops windows and layer surfaces whose surfaces have been
// destroyed.
func (sp *Space) prune() {
	sp.windows = slices.DeleteFunc(sp.windows, func(w *Window) bool { return w.surface.Destroyed() })
	sp.layers = slices.DeleteFunc(sp.layers, func(ls *LayerSurface) bool { return ls.surface.Destroyed() })
}

func (sp *Space) layer(o *output.Output, layer Layer, f func(root *surface.Surface, loc image.Point)) {
	for _, ls := range sp.layers {
		if (ls.output == o) && (ls.layer == layer) {
			f(ls.surface, ls.location())
		}
	}
}

// Elements returns the elements to draw on o, back to front.
func (sp *Space) Elements(o *output.Output) []render.Element {
	sp.prune()

	var elements []render.Element
	add := func(root *surface.Surface, origin image.Point) {
		root.Walk(origin, func(s *surface.Surface, loc image.Point) bool {
			if e, ok := element(o, s, loc); ok {
				elements = append(elements, e)
			}
			return true
		})
	}

	sp.layer(o, LayerBackground, add)
	sp.layer(o, LayerBottom, add)
	for _, w := range sp.windows {
		add(w.surface, w.location)
	}
	sp.layer(o, LayerTop, add)
	sp.layer(o, LayerOverlay, add)

	return elements
}

func element(o *output.Output, s *surface.Surface, loc image.Point) (render.Element, bool) {
	if s.Destroyed() {
		return render.Element{}, false
	}

	area := s.Bounds().Add(loc)
	if !area.Overlaps(o.Geometry()) {
		return render.Element{}, false
	}

	state := s.Current()
	dst := o.ToBuffer(area)
	return render.Element{
		Key:       s,
		Owner:     s,
		Buffer:    state.Buffer,
		Acquire:   state.Acquire,
		Dst:       dst,
		Transform: state.Transform.Invert().Then(o.BufferTransform()),
		Opacity:   1,
		Serial:    s.Serial(),
		DamageSince: func(serial uint64) region.Region {
			d := s.DamageSince(serial)
			if d.IsFull() {
				return d
			}

			var out region.Region
			for _, r := range d.Rects() {
				out.Add(o.ToBuffer(r.Add(loc)).Sub(dst.Min))
			}
			return out
		},
	}, true
}
