package output

import (
	"image"
	"image/color"

	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/render"
)

// maxDamageHistory is the oldest buffer age that damage is tracked
// for. Older buffers are repainted in full.
const maxDamageHistory = 4

type trackedElement struct {
	index     int
	dst       image.Rectangle
	visible   image.Rectangle
	src       image.Rectangle
	transform geom.Transform
	opacity   float64
	serial    uint64
	solid     bool
	color     color.RGBA64
}

func track(i int, e *render.Element) trackedElement {
	return trackedElement{
		index:     i,
		dst:       e.Dst,
		visible:   e.Visible(),
		src:       e.Source(),
		transform: e.Transform,
		opacity:   e.Opacity,
		serial:    e.Serial,
		solid:     e.Buffer == nil,
		color:     rgba64(e.Color),
	}
}

func rgba64(c color.Color) color.RGBA64 {
	if c == nil {
		return color.RGBA64{}
	}
	return color.RGBA64Model.Convert(c).(color.RGBA64)
}

func (t trackedElement) moved(o trackedElement) bool {
	return (t.index != o.index) ||
		(t.dst != o.dst) ||
		(t.visible != o.visible) ||
		(t.src != o.src) ||
		(t.transform != o.transform) ||
		(t.opacity != o.opacity) ||
		(t.solid != o.solid) ||
		(t.color != o.color)
}

// Plan is the damage of a frame that is about to be rendered.
type Plan struct {
	// Frame is what changed on screen since the last frame.
	Frame region.Region
	// Buffer is what needs to be drawn into a buffer of the age that
	// the plan was made for.
	Buffer region.Region

	elements map[any]trackedElement
}

// DamageTracker works out what part of an output needs to be redrawn
// by comparing the elements of a frame to those of the previous one.
type DamageTracker struct {
	size     image.Point
	elements map[any]trackedElement
	extra    region.Region
	// history holds the damage of previously committed frames, most
	// recent first.
	history []region.Region
	valid   bool
}

func NewDamageTracker(size image.Point) *DamageTracker {
	return &DamageTracker{size: size}
}

// Reset forgets every previous frame, so that the next one is drawn in
// full.
func (t *DamageTracker) Reset(size image.Point) {
	t.size = size
	t.elements = nil
	t.extra.Clear()
	t.history = nil
	t.valid = false
}

// AddDamage marks an area of the output, in buffer pixels, as needing
// a redraw regardless of what the elements of the next frame are.
func (t *DamageTracker) AddDamage(r region.Region) {
	t.extra.Union(r)
}

// Plan computes the damage of a frame made from elements, drawn into
// a buffer of the given age.
func (t *DamageTracker) Plan(elements []render.Element, age int) Plan {
	screen := image.Rectangle{Max: t.size}
	plan := Plan{elements: make(map[any]trackedElement, len(elements))}

	for i := range elements {
		e := &elements[i]
		now := track(i, e)
		plan.elements[e.Key] = now

		if !t.valid {
			continue
		}

		old, ok := t.elements[e.Key]
		switch {
		case !ok:
			plan.Frame.Add(now.visible)
		case now.moved(old):
			plan.Frame.Add(old.visible)
			plan.Frame.Add(now.visible)
		case now.solid:
		default:
			plan.Frame.Union(e.Damage(old.serial))
		}
	}

	if !t.valid {
		plan.Frame = region.New(screen)
		plan.Buffer = plan.Frame.Clone()
		return plan
	}

	for key, old := range t.elements {
		if _, ok := plan.elements[key]; !ok {
			plan.Frame.Add(old.visible)
		}
	}
	plan.Frame.Union(t.extra)
	plan.Frame = plan.Frame.Intersect(screen)

	if (age <= 0) || (age > len(t.history)+1) {
		plan.Buffer = region.New(screen)
		return plan
	}

	plan.Buffer = plan.Frame.Clone()
	for _, d := range t.history[:age-1] {
		plan.Buffer.Union(d)
	}
	plan.Buffer = plan.Buffer.Intersect(screen)
	return plan
}

// Commit records plan as the most recent frame. It should only be
// called once the frame has been successfully rendered.
func (t *DamageTracker) Commit(plan Plan) {
	t.elements = plan.elements
	t.extra.Clear()
	t.valid = true

	t.history = append([]region.Region{plan.Frame}, t.history...)
	if len(t.history) > maxDamageHistory {
		t.history = t.history[:maxDamageHistory]
	}
}
