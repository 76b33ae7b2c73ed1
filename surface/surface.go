// Package surface implements the double-buffered state machine behind
// wl_surface and wl_subsurface.
//
// Clients build up pending state with requests such as Attach and
// Damage and apply it atomically with Commit. A sub-surface in
// synchronized mode caches its commits until its parent commits, at
// which point the cached state of every such child is applied in
// stacking order.
package surface

import (
	"errors"
	"fmt"
	"image"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/registry"
)

var (
	ErrInvalidScale     = errors.New("invalid buffer scale")
	ErrInvalidTransform = errors.New("invalid buffer transform")
	ErrInvalidSize      = errors.New("buffer size is not a multiple of the scale")
)

// Phase is the point in its lifecycle that a surface is at.
type Phase uint8

const (
	PhaseUnconfigured Phase = iota
	PhaseIdle
	PhasePendingChanges
	PhaseCommitting
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnconfigured:
		return "unconfigured"
	case PhaseIdle:
		return "idle"
	case PhasePendingChanges:
		return "pending"
	case PhaseCommitting:
		return "committing"
	case PhaseDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// historyLen is the number of commits that DamageSince can report
// damage for before falling back to the whole surface.
const historyLen = 16

type damageRecord struct {
	serial uint64
	damage region.Region
}

// Surface is a client's rectangular drawing area.
type Surface struct {
	m  *Manager
	id registry.ID

	pending State
	cached  State
	current State

	hasCached  bool
	committing bool
	destroyed  bool

	role       Role
	roleData   any
	roleActive bool

	sub subsurface

	// stack is the committed stacking order of the surface and its
	// children, back to front. The surface itself is included.
	stack        []registry.ID
	pendingStack []registry.ID
	stackChanged bool

	serial  uint64
	history []damageRecord

	preCommit []func(*Surface) error
	onCommit  []func(*Surface)
	onDestroy []func(*Surface)
}

func (s *Surface) ID() registry.ID {
	return s.id
}

// Phase returns the surface's current lifecycle phase.
func (s *Surface) Phase() Phase {
	switch {
	case s.destroyed:
		return PhaseDestroyed
	case s.committing:
		return PhaseCommitting
	case s.role == RoleNone:
		return PhaseUnconfigured
	case s.pending.Changed():
		return PhasePendingChanges
	default:
		return PhaseIdle
	}
}

// Pending returns the state that the next commit will apply.
func (s *Surface) Pending() *State {
	return &s.pending
}

// Current returns the committed state of the surface.
func (s *Surface) Current() *State {
	return &s.current
}

// Attach sets the pending buffer. A nil buffer removes the surface's
// content on the next commit. The offset moves the surface's origin
// relative to its current one.
func (s *Surface) Attach(buf *buffer.Buffer, offset image.Point) {
	s.pending.Buffer = buf
	s.pending.changed |= fieldBuffer
	if offset != (image.Point{}) {
		s.SetOffset(offset)
	}
}

// SetOffset moves the surface's origin relative to its current one on
// the next commit.
func (s *Surface) SetOffset(offset image.Point) {
	s.pending.Offset = s.pending.Offset.Add(offset)
	s.pending.changed |= fieldOffset
}

// Damage marks an area of the surface, in surface coordinates, as
// changed.
func (s *Surface) Damage(r image.Rectangle) {
	s.pending.Damage.Add(r)
	s.pending.changed |= fieldDamage
}

// DamageBuffer marks an area of the surface, in buffer coordinates, as
// changed.
func (s *Surface) DamageBuffer(r image.Rectangle) {
	s.pending.BufferDamage.Add(r)
	s.pending.changed |= fieldDamage
}

func (s *Surface) SetScale(scale int) error {
	if scale < 1 {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}

	s.pending.Scale = scale
	s.pending.changed |= fieldScale
	return nil
}

func (s *Surface) SetTransform(t geom.Transform) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidTransform, uint32(t))
	}

	s.pending.Transform = t
	s.pending.changed |= fieldTransform
	return nil
}

// SetOpaque sets the area that the client promises is fully opaque.
func (s *Surface) SetOpaque(r region.Region) {
	s.pending.Opaque = r.Clone()
	s.pending.changed |= fieldOpaque
}

// SetInput sets the area that accepts input. Passing region.Full()
// restores the default of the whole surface.
func (s *Surface) SetInput(r region.Region) {
	s.pending.Input = r.Clone()
	s.pending.changed |= fieldInput
}

// Frame requests a frame callback.
func (s *Surface) Frame(cb FrameCallback) {
	s.pending.Frames = append(s.pending.Frames, cb)
	s.pending.changed |= fieldFrame
}

// SetAcquireFence sets a fence that must be signaled before the
// pending buffer's content may be read.
func (s *Surface) SetAcquireFence(f buffer.Fence) {
	s.pending.Acquire = f
	s.pending.changed |= fieldAcquire
}

// OnPreCommit registers f to validate pending state before it is
// applied. If f returns an error the commit fails with it and nothing
// is applied. Role implementations use this to enforce their rules.
func (s *Surface) OnPreCommit(f func(*Surface) error) {
	s.preCommit = append(s.preCommit, f)
}

// OnCommit registers f to be called every time state is applied to the
// surface, including cached state applied by a parent's commit.
func (s *Surface) OnCommit(f func(*Surface)) {
	s.onCommit = append(s.onCommit, f)
}

// OnDestroy registers f to be called when the surface is destroyed.
func (s *Surface) OnDestroy(f func(*Surface)) {
	s.onDestroy = append(s.onDestroy, f)
}

func (s *Surface) validate() error {
	for _, f := range s.preCommit {
		if err := f(s); err != nil {
			return err
		}
	}

	buf := s.current.Buffer
	if s.pending.changed&fieldBuffer != 0 {
		buf = s.pending.Buffer
	}
	if buf == nil {
		return nil
	}

	scale := s.current.Scale
	if s.pending.changed&fieldScale != 0 {
		scale = s.pending.Scale
	}
	if (buf.Width()%scale != 0) || (buf.Height()%scale != 0) {
		return fmt.Errorf("%w: %vx%v at scale %v", ErrInvalidSize, buf.Width(), buf.Height(), scale)
	}
	return nil
}

// Commit atomically applies the pending state. If the surface is an
// effectively synchronized sub-surface, the state is cached until the
// parent commits instead.
func (s *Surface) Commit() error {
	if s.destroyed {
		panic(fmt.Errorf("commit of destroyed surface %v", s.id))
	}

	if err := s.validate(); err != nil {
		return fmt.Errorf("commit surface %v: %w", s.id, err)
	}

	s.pending.hold()
	if s.Synchronized() {
		s.cached.merge(&s.pending)
		s.hasCached = true
		return nil
	}

	if s.hasCached {
		s.cached.merge(&s.pending)
		s.applyCached()
		return nil
	}
	s.apply(&s.pending)
	return nil
}

func (s *Surface) applyCached() {
	s.hasCached = false
	s.apply(&s.cached)
}

func (s *Surface) apply(src *State) {
	s.committing = true
	defer func() { s.committing = false }()

	prevSize := s.Size()
	prevBuf := s.current.Buffer
	changed := src.changed

	s.current.merge(src)
	restacked := s.applyStack()

	size := s.Size()
	damage := s.current.Damage
	if !s.current.BufferDamage.Empty() {
		damage.Union(s.bufferToSurface(s.current.BufferDamage))
	}
	s.current.Damage = region.Region{}
	s.current.BufferDamage = region.Region{}

	full := restacked ||
		(size != prevSize) ||
		((prevBuf == nil) != (s.current.Buffer == nil)) ||
		(changed&(fieldOffset|fieldScale|fieldTransform) != 0)
	if full {
		damage = region.New(image.Rectangle{Max: maxPoint(size, prevSize)})
	}
	damage = damage.Intersect(image.Rectangle{Max: maxPoint(size, prevSize)})

	s.record(damage)
	s.current.changed = 0

	s.m.log.Debug("commit", "surface", s.id, "serial", s.serial, "damage", damage)

	for _, id := range s.stack {
		if id == s.id {
			continue
		}
		child, ok := s.m.Get(id)
		if ok && child.hasCached && child.Synchronized() {
			child.applyCached()
		}
	}

	for _, f := range s.onCommit {
		f(s)
	}
	for _, f := range s.m.onCommit {
		f(s)
	}
}

// record starts a new serial for damage, unless damage is empty.
func (s *Surface) record(damage region.Region) {
	if damage.Empty() {
		return
	}

	s.serial++
	s.history = append(s.history, damageRecord{serial: s.serial, damage: damage})
	if len(s.history) > historyLen {
		s.history = s.history[len(s.history)-historyLen:]
	}
}

func (s *Surface) bufferToSurface(d region.Region) region.Region {
	buf := s.current.Buffer
	if buf == nil {
		return region.Region{}
	}

	var out region.Region
	inv := s.current.Transform.Invert()
	for _, r := range d.Rects() {
		out.Add(inv.Rect(r, buf.Size()))
	}
	return out.ScaleDown(s.current.Scale)
}

func maxPoint(a, b image.Point) image.Point {
	return image.Pt(max(a.X, b.X), max(a.Y, b.Y))
}

// Size returns the size of the surface in surface coordinates. A
// surface without a buffer has no size.
func (s *Surface) Size() image.Point {
	buf := s.current.Buffer
	if buf == nil {
		return image.Point{}
	}
	return s.current.Transform.Size(buf.Size()).Div(s.current.Scale)
}

// Bounds returns the surface's area relative to its origin.
func (s *Surface) Bounds() image.Rectangle {
	return image.Rectangle{Max: s.Size()}
}

// Serial returns a counter that increases with every commit that
// changes the surface's appearance.
func (s *Surface) Serial() uint64 {
	return s.serial
}

// DamageSince returns the area of the surface that has changed in
// commits after the one with the given serial. If that commit is too
// old to be known, the whole surface is returned.
func (s *Surface) DamageSince(serial uint64) region.Region {
	if serial >= s.serial {
		return region.Region{}
	}
	if (len(s.history) == 0) || (s.history[0].serial > serial+1) {
		return region.New(s.Bounds())
	}

	var damage region.Region
	for i := len(s.history) - 1; i >= 0; i-- {
		rec := s.history[i]
		if rec.serial <= serial {
			break
		}
		damage.Union(rec.damage)
	}
	return damage
}

// TakeFrameCallbacks removes and returns the committed frame callbacks
// in the order they were requested.
func (s *Surface) TakeFrameCallbacks() []FrameCallback {
	frames := s.current.Frames
	s.current.Frames = nil
	return frames
}

// Mapped reports whether the surface should be displayed. A surface is
// mapped when it has content and, for sub-surfaces, its parent is
// mapped.
func (s *Surface) Mapped() bool {
	if s.destroyed || (s.current.Buffer == nil) {
		return false
	}
	if s.role != RoleSubsurface {
		return true
	}

	parent, ok := s.Parent()
	return ok && parent.Mapped()
}

// Walk calls f for every mapped surface in the tree rooted at s, back
// to front, with the position of the surface's origin relative to
// origin. It stops if f returns false.
func (s *Surface) Walk(origin image.Point, f func(s *Surface, loc image.Point) bool) {
	if !s.Mapped() {
		return
	}
	s.walk(origin, f)
}

func (s *Surface) walk(origin image.Point, f func(*Surface, image.Point) bool) bool {
	loc := origin.Add(s.current.Offset)
	for _, id := range s.stack {
		if id == s.id {
			if !f(s, loc) {
				return false
			}
			continue
		}

		child, ok := s.m.Get(id)
		if !ok || (child.current.Buffer == nil) {
			continue
		}
		if !child.walk(loc.Add(child.sub.position), f) {
			return false
		}
	}
	return true
}

// Ref keeps the surface's object alive after it is destroyed, such as
// while a frame that shows it is in flight.
func (s *Surface) Ref() {
	if err := s.m.reg.Ref(s.id); err != nil {
		panic(err)
	}
}

// Unref drops a reference added with Ref.
func (s *Surface) Unref() {
	s.m.reg.Unref(s.id)
}

// Destroyed reports whether the client has destroyed the surface.
func (s *Surface) Destroyed() bool {
	return s.destroyed
}

// Destroy destroys the surface. Its children are orphaned and any
// state they had cached waiting for it is discarded. The surface's
// object stays in the registry until every reference from Ref has been
// dropped.
func (s *Surface) Destroy() error {
	if s.destroyed {
		return fmt.Errorf("destroy surface %v: %w", s.id, registry.ErrUnknownObject)
	}

	for _, id := range s.stack {
		if id == s.id {
			continue
		}
		if child, ok := s.m.Get(id); ok {
			child.orphan()
		}
	}
	if s.role == RoleSubsurface {
		s.unparent()
	}

	s.destroyed = true
	s.cached.drop()
	s.hasCached = false
	DiscardFrames(s.pending.Frames)
	DiscardFrames(s.current.Frames)
	s.pending = State{}
	if s.current.Buffer != nil {
		s.current.Buffer.Unlock()
	}
	s.current = initialState()
	s.stack = []registry.ID{s.id}
	s.pendingStack = []registry.ID{s.id}

	for _, f := range s.onDestroy {
		f(s)
	}

	s.m.log.Debug("destroy surface", "surface", s.id)
	return s.m.reg.Destroy(s.id)
}
