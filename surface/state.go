package surface

import (
	"image"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/registry"
)

type field uint16

const (
	fieldBuffer field = 1 << iota
	fieldOffset
	fieldScale
	fieldTransform
	fieldOpaque
	fieldInput
	fieldAcquire
	fieldDamage
	fieldFrame
)

// FrameCallback is a request to be told when it is a good time to draw
// a new frame. Done is called with a timestamp in milliseconds. If the
// callback will never be done, because its surface or the frame that
// it was waiting for went away, Discard is called instead.
type FrameCallback struct {
	ID      registry.ID
	Done    func(msec uint32)
	Discard func()
}

// DiscardFrames calls the Discard function of every callback in
// frames that has one.
func DiscardFrames(frames []FrameCallback) {
	for _, cb := range frames {
		if cb.Discard != nil {
			cb.Discard()
		}
	}
}

// State is one copy of a surface's double-buffered state.
//
// A surface's pending state only records the fields that a client has
// changed since its last commit. Committing applies those fields on
// top of the current state. Damage and frame callbacks accumulate
// instead of being replaced.
type State struct {
	Buffer       *buffer.Buffer
	Offset       image.Point
	Scale        int
	Transform    geom.Transform
	Opaque       region.Region
	Input        region.Region
	Damage       region.Region
	BufferDamage region.Region
	Frames       []FrameCallback
	Acquire      buffer.Fence

	changed field
}

func initialState() State {
	return State{
		Scale: 1,
		Input: region.Full(),
	}
}

// Changed reports whether anything has been recorded in the state.
func (s *State) Changed() bool {
	return s.changed != 0
}

// BufferChange reports whether the state attaches a buffer, removes
// the attached one, or leaves it alone.
func (s *State) BufferChange() BufferChange {
	switch {
	case s.changed&fieldBuffer == 0:
		return BufferUnchanged
	case s.Buffer == nil:
		return BufferRemoved
	default:
		return BufferAttached
	}
}

// BufferChange describes what a commit does to a surface's buffer.
type BufferChange uint8

const (
	BufferUnchanged BufferChange = iota
	BufferAttached
	BufferRemoved
)

// hold converts a pending state into one that holds a lock on its
// buffer. A buffer that was destroyed before the commit is treated as
// if nothing had been attached.
func (s *State) hold() {
	if (s.changed&fieldBuffer == 0) || (s.Buffer == nil) {
		return
	}

	if s.Buffer.Destroyed() {
		s.Buffer = nil
		return
	}

	s.Buffer.Commit()
	s.Buffer.Lock()
}

// merge moves the changes recorded in src on top of s and resets src.
// Both states must hold their buffers.
func (s *State) merge(src *State) {
	if src.changed&fieldBuffer != 0 {
		if s.Buffer != nil {
			s.Buffer.Unlock()
		}
		s.Buffer = src.Buffer
	}
	if src.changed&fieldOffset != 0 {
		s.Offset = s.Offset.Add(src.Offset)
	}
	if src.changed&fieldScale != 0 {
		s.Scale = src.Scale
	}
	if src.changed&fieldTransform != 0 {
		s.Transform = src.Transform
	}
	if src.changed&fieldOpaque != 0 {
		s.Opaque = src.Opaque
	}
	if src.changed&fieldInput != 0 {
		s.Input = src.Input
	}
	if src.changed&fieldAcquire != 0 {
		s.Acquire = src.Acquire
	}

	s.Damage.Union(src.Damage)
	s.BufferDamage.Union(src.BufferDamage)
	s.Frames = append(s.Frames, src.Frames...)
	s.changed |= src.changed

	*src = State{}
}

// drop releases anything held by a state that will never be applied.
func (s *State) drop() {
	if (s.changed&fieldBuffer != 0) && (s.Buffer != nil) {
		s.Buffer.Unlock()
	}
	DiscardFrames(s.Frames)
	*s = State{}
}
