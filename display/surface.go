package display

import (
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/internal/logger"
	"deedles.dev/wlkit/region"
	"github.com/charmbracelet/log"
)

// Surface is a scan-out path of a device: a display controller and its
// primary plane. It keeps track of changes, such as a new mode, that
// need a full commit to apply.
type Surface struct {
	dev     Device
	primary Plane
	log     *log.Logger

	current Mode
	pending Mode
	dirty   bool
	active  bool
}

// NewSurface returns a Surface that shows frames on dev's primary
// plane. It starts out in the device's current mode.
func NewSurface(dev Device, l *log.Logger) (*Surface, error) {
	i := slices.IndexFunc(dev.Planes(), func(p PlaneInfo) bool { return p.Type == PlanePrimary })
	if i < 0 {
		return nil, fmt.Errorf("device %v: %w", dev.Name(), ErrNoFramebuffer)
	}

	mode := dev.CurrentMode()
	return &Surface{
		dev:     dev,
		primary: dev.Planes()[i].Handle,
		log:     logger.Or(l).WithPrefix("display").With("device", dev.Name()),
		current: mode,
		pending: mode,
		active:  true,
	}, nil
}

func (s *Surface) Device() Device {
	return s.dev
}

// CurrentMode returns the mode that was last committed.
func (s *Surface) CurrentMode() Mode {
	return s.current
}

// PendingMode returns the mode that the next commit will use.
func (s *Surface) PendingMode() Mode {
	return s.pending
}

// UseMode sets the mode to be used by the next commit.
func (s *Surface) UseMode(mode Mode) error {
	if !slices.ContainsFunc(s.dev.Modes(), func(m Mode) bool { return (m.Size == mode.Size) && (m.Refresh == mode.Refresh) }) {
		return fmt.Errorf("%v: %w", mode, ErrUnsupportedMode)
	}

	s.pending = mode
	return nil
}

// CommitPending reports whether state changes are waiting for a full
// commit.
func (s *Surface) CommitPending() bool {
	return s.dirty || (s.pending != s.current)
}

// TestState checks whether the device would accept planes.
func (s *Surface) TestState(planes []PlaneState, allowModeset bool) error {
	var mode *Mode
	if allowModeset {
		mode = &s.pending
	}
	return s.dev.TestState(planes, mode)
}

// Commit applies the pending state together with planes.
func (s *Surface) Commit(planes []PlaneState, userData uint64) error {
	if !s.active {
		return ErrInactive
	}

	err := s.dev.Commit(planes, s.pending, userData)
	if err != nil {
		return fmt.Errorf("commit %v: %w", s.pending, err)
	}

	s.log.Debug("commit", "mode", s.pending)
	s.current = s.pending
	s.dirty = false
	return nil
}

// PageFlip shows planes without a modeset. It fails if changes that
// require a full commit are pending.
func (s *Surface) PageFlip(planes []PlaneState, userData uint64) error {
	if !s.active {
		return ErrInactive
	}
	if s.CommitPending() {
		return ErrModesetRequired
	}

	err := s.dev.PageFlip(planes, userData)
	if err != nil {
		return fmt.Errorf("page flip: %w", err)
	}
	return nil
}

// Present shows fb full screen on the primary plane, with a full
// commit if one is pending and a page flip otherwise. An Event with
// userData is sent once it is visible.
func (s *Surface) Present(fb *buffer.Buffer, damage region.Region, userData uint64) error {
	bounds := image.Rectangle{Max: s.pending.Size}
	config := PlaneConfig{
		Src:   image.Rectangle{Max: fb.Size()},
		Dst:   bounds,
		Alpha: 1,
		FB:    fb,
	}
	if !damage.IsFull() {
		config.DamageClips = damage.Intersect(bounds).Rects()
		if config.DamageClips == nil {
			config.DamageClips = []image.Rectangle{}
		}
	}
	planes := []PlaneState{{Plane: s.primary, Config: &config}}

	if s.CommitPending() {
		if err := s.TestState(planes, true); err != nil {
			return fmt.Errorf("test state: %w", err)
		}
		return s.Commit(planes, userData)
	}
	return s.PageFlip(planes, userData)
}

// ResetState re-reads the device's state and discards anything
// in flight, such as after the session was re-activated. The next
// presentation will be a full commit.
func (s *Surface) ResetState() error {
	err := s.dev.Reset()
	if err != nil {
		return fmt.Errorf("reset %v: %w", s.dev.Name(), err)
	}

	s.current = s.dev.CurrentMode()
	s.dirty = true
	s.log.Info("reset state", "mode", s.current)
	return nil
}

// SetActive enables or disables presentation, as when the session
// that owns the device is paused.
func (s *Surface) SetActive(active bool) {
	s.active = active
}

func (s *Surface) Active() bool {
	return s.active
}

func (s *Surface) Events() <-chan Event {
	return s.dev.Events()
}
