package output

import (
	"errors"
	"image"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/render"
)

var ErrSwapchainExhausted = errors.New("no free buffer in swapchain")

type slotState uint8

const (
	slotFree slotState = iota
	slotAcquired
	slotQueued
	slotFront
)

// Slot is one of the render targets of a Swapchain.
type Slot struct {
	target render.Target
	state  slotState
	age    int
	gen    uint64
}

func (s *Slot) Target() render.Target {
	return s.target
}

// Age is the number of frames that have been presented since the
// slot's contents were last presented. An age of zero means that the
// contents are unknown.
func (s *Slot) Age() int {
	return s.age
}

// Swapchain is a fixed set of render targets that take turns being
// rendered to and shown.
type Swapchain struct {
	r      render.Renderer
	size   image.Point
	format buffer.Format
	slots  []*Slot
	gen    uint64
}

func NewSwapchain(r render.Renderer, size image.Point, format buffer.Format, length int) *Swapchain {
	if length < 1 {
		panic("swapchain length must be positive")
	}

	slots := make([]*Slot, length)
	for i := range slots {
		slots[i] = new(Slot)
	}
	return &Swapchain{
		r:      r,
		size:   size,
		format: format,
		slots:  slots,
	}
}

func (sc *Swapchain) Size() image.Point {
	return sc.size
}

// Acquire returns a free slot to render into. The slot with the
// highest known age is preferred, so that its contents are most likely
// still useful.
func (sc *Swapchain) Acquire() (*Slot, error) {
	var found *Slot
	for _, s := range sc.slots {
		if s.state != slotFree {
			continue
		}
		if (found == nil) || (s.age > found.age) {
			found = s
		}
	}
	if found == nil {
		return nil, ErrSwapchainExhausted
	}

	if (found.target == nil) || (found.gen != sc.gen) {
		t, err := sc.r.NewTarget(sc.size, sc.format)
		if err != nil {
			return nil, err
		}
		found.target = t
		found.gen = sc.gen
		found.age = 0
	}

	found.state = slotAcquired
	return found, nil
}

// Queue marks s as submitted for presentation.
func (sc *Swapchain) Queue(s *Slot) {
	if s.state != slotAcquired {
		panic("queued slot that was not acquired")
	}
	s.state = slotQueued
}

// Presented marks s as shown. The previously shown slot becomes free
// again and the ages of every slot advance.
func (sc *Swapchain) Presented(s *Slot) {
	if s.state != slotQueued {
		panic("presented slot that was not queued")
	}

	for _, o := range sc.slots {
		if o.state == slotFront {
			o.state = slotFree
		}
		if o.age > 0 {
			o.age++
		}
	}
	s.state = slotFront
	s.age = 1
}

// Cancel returns s to the swapchain without having changed its
// contents.
func (sc *Swapchain) Cancel(s *Slot) {
	if s.state == slotAcquired {
		s.state = slotFree
	}
}

// Release returns s to the swapchain without presenting it. Its
// contents become unknown.
func (sc *Swapchain) Release(s *Slot) {
	if s.state == slotFront {
		return
	}
	s.state = slotFree
	s.age = 0
}

// Reset forgets every slot. Targets are recreated with the new size
// as they are acquired.
func (sc *Swapchain) Reset(size image.Point) {
	sc.size = size
	sc.gen++
	for _, s := range sc.slots {
		s.age = 0
	}
}
