package surface

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/registry"
)

var (
	// ErrBadSurface is returned when a surface can not become a
	// sub-surface, such as when it would become its own ancestor.
	ErrBadSurface = errors.New("bad sub-surface")

	// ErrBadParent is returned when a sub-surface's parent is invalid.
	ErrBadParent = errors.New("bad sub-surface parent")

	// ErrBadSibling is returned when a sub-surface is placed relative to
	// a surface that is neither its parent nor a sibling.
	ErrBadSibling = errors.New("sibling is not the parent or a sibling")
)

type subsurface struct {
	parent registry.ID
	// desync is the sub-surface's own mode. Sub-surfaces start out
	// synchronized.
	desync bool

	position        image.Point
	pendingPosition image.Point
	positionChanged bool
}

// Parent returns the surface's sub-surface parent, if it has one.
func (s *Surface) Parent() (*Surface, bool) {
	if s.sub.parent == 0 {
		return nil, false
	}
	return s.m.Get(s.sub.parent)
}

// Position returns the sub-surface's committed position relative to
// its parent's origin.
func (s *Surface) Position() image.Point {
	return s.sub.position
}

// Children returns the IDs of the surface's committed sub-surfaces,
// back to front.
func (s *Surface) Children() []registry.ID {
	children := make([]registry.ID, 0, len(s.stack)-1)
	for _, id := range s.stack {
		if id != s.id {
			children = append(children, id)
		}
	}
	return children
}

// Synchronized reports whether commits to the surface are cached until
// its parent commits. This is the case if the sub-surface is in
// synchronized mode itself or if any of its ancestors are.
func (s *Surface) Synchronized() bool {
	if s.role != RoleSubsurface {
		return false
	}
	if !s.sub.desync {
		return true
	}

	parent, ok := s.Parent()
	return ok && parent.Synchronized()
}

// SetPosition sets the sub-surface's position relative to its parent.
// It is applied when the parent commits.
func (s *Surface) SetPosition(p image.Point) {
	s.sub.pendingPosition = p
	s.sub.positionChanged = true
}

// PlaceAbove moves the sub-surface directly above sibling, which must be
// the parent or another of its sub-surfaces. It is applied when the
// parent commits.
func (s *Surface) PlaceAbove(sibling registry.ID) error {
	return s.place(sibling, 1)
}

// PlaceBelow is like PlaceAbove but moves the sub-surface directly
// below sibling.
func (s *Surface) PlaceBelow(sibling registry.ID) error {
	return s.place(sibling, 0)
}

func (s *Surface) place(sibling registry.ID, after int) error {
	parent, ok := s.Parent()
	if !ok {
		return fmt.Errorf("place surface %v: %w", s.id, ErrBadSurface)
	}
	if sibling == s.id {
		return fmt.Errorf("place surface %v relative to itself: %w", s.id, ErrBadSibling)
	}

	stack := slices.DeleteFunc(slices.Clone(parent.pendingStack), func(id registry.ID) bool { return id == s.id })
	i := slices.Index(stack, sibling)
	if i < 0 {
		return fmt.Errorf("place surface %v relative to %v: %w", s.id, sibling, ErrBadSibling)
	}

	parent.pendingStack = slices.Insert(stack, i+after, s.id)
	parent.stackChanged = true
	return nil
}

// SetSync puts the sub-surface into synchronized mode.
func (s *Surface) SetSync() {
	s.sub.desync = false
}

// SetDesync puts the sub-surface into desynchronized mode. If that
// makes it effectively desynchronized, any state it had cached is
// applied immediately.
func (s *Surface) SetDesync() {
	s.sub.desync = true
	if s.hasCached && !s.Synchronized() {
		s.applyCached()
	}
}

// applyStack applies the stacking order and the children's positions
// that were set since the last commit. It reports whether anything
// changed.
func (s *Surface) applyStack() bool {
	changed := false
	if s.stackChanged {
		changed = !slices.Equal(s.stack, s.pendingStack)
		s.stack = slices.Clone(s.pendingStack)
		s.stackChanged = false
	}

	for _, id := range s.stack {
		if id == s.id {
			continue
		}
		child, ok := s.m.Get(id)
		if !ok || !child.sub.positionChanged {
			continue
		}
		if child.sub.position != child.sub.pendingPosition {
			changed = true
		}
		child.sub.position = child.sub.pendingPosition
		child.sub.positionChanged = false
	}
	return changed
}

// DestroySubsurface destroys the surface's sub-surface role object,
// unmapping it from its parent. The surface keeps the sub-surface role.
func (s *Surface) DestroySubsurface() {
	if s.role != RoleSubsurface {
		return
	}

	s.unparent()
	s.cached.drop()
	s.hasCached = false
	s.ReleaseRole()
}

func (s *Surface) unparent() {
	if parent, ok := s.Parent(); ok {
		del := func(id registry.ID) bool { return id == s.id }
		parent.stack = slices.DeleteFunc(parent.stack, del)
		parent.pendingStack = slices.DeleteFunc(parent.pendingStack, del)
		parent.record(s.treeDamage())
	}
	s.sub = subsurface{}
}

// orphan detaches a child from a parent that is being destroyed. State
// that the child had cached waiting for the parent's commit is
// discarded without being applied.
func (s *Surface) orphan() {
	s.sub.parent = 0
	s.cached.drop()
	s.hasCached = false
}

func (s *Surface) treeDamage() region.Region {
	var d region.Region
	s.walk(s.sub.position, func(child *Surface, loc image.Point) bool {
		d.Add(child.Bounds().Add(loc))
		return true
	})
	return d
}
