// Package display drives display controllers with atomic presentation:
// every plane of a frame is updated in a single indivisible operation,
// or not at all.
package display

import (
	"errors"
	"fmt"
	"image"
	"time"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/geom"
)

var (
	// ErrPresentTimeout is reported when a display does not acknowledge
	// a presentation within its deadline.
	ErrPresentTimeout = errors.New("presentation timed out")

	ErrUnsupportedMode = errors.New("mode not supported by display")
	ErrInactive        = errors.New("display is not active")
	ErrNoFramebuffer   = errors.New("primary plane has no framebuffer")
	ErrInvalidPlane    = errors.New("invalid plane configuration")
	ErrModesetRequired = errors.New("pending changes require a full commit")
	ErrFlipOutstanding = errors.New("previous presentation has not completed")
)

// Mode is a display resolution and refresh rate.
type Mode struct {
	Size image.Point
	// Refresh is the refresh rate in mHz.
	Refresh   int
	Preferred bool
}

// Interval returns the time between two refreshes.
func (m Mode) Interval() time.Duration {
	if m.Refresh <= 0 {
		return time.Second / 60
	}
	return time.Duration(int64(time.Second) * 1000 / int64(m.Refresh))
}

func (m Mode) String() string {
	return fmt.Sprintf("%vx%v@%v.%03v", m.Size.X, m.Size.Y, m.Refresh/1000, m.Refresh%1000)
}

// Plane is a handle to a hardware plane.
type Plane uint32

type PlaneType uint8

const (
	PlanePrimary PlaneType = iota
	PlaneOverlay
	PlaneCursor
)

// PlaneInfo describes a plane of a device.
type PlaneInfo struct {
	Handle  Plane
	Type    PlaneType
	Formats buffer.FormatSet
}

// PlaneConfig is what a plane shows.
type PlaneConfig struct {
	// Src is the area of FB to show, in buffer pixels.
	Src image.Rectangle
	// Dst is where on the display the plane is shown.
	Dst       image.Rectangle
	Transform geom.Transform
	Alpha     float64
	// DamageClips, if not nil, tells the device which parts of FB have
	// changed since the plane last showed it.
	DamageClips []image.Rectangle
	FB          *buffer.Buffer
}

// PlaneState is the requested state of one plane. A nil Config
// disables the plane.
type PlaneState struct {
	Plane  Plane
	Config *PlaneConfig
}

// Event reports that a commit or page flip has been presented.
type Event struct {
	Sequence uint64
	Time     time.Time
	// UserData is the value that was passed along with the commit.
	UserData uint64
}

// Device is a display controller with atomic modesetting.
type Device interface {
	Name() string
	Modes() []Mode
	Planes() []PlaneInfo
	// CurrentMode returns the mode the hardware is actually in.
	CurrentMode() Mode

	// TestState checks whether the device would accept planes without
	// changing anything. If mode is nil, the state must work without a
	// modeset.
	TestState(planes []PlaneState, mode *Mode) error

	// Commit applies mode and planes together. An Event carrying
	// userData is sent once the new state is shown.
	Commit(planes []PlaneState, mode Mode, userData uint64) error

	// PageFlip applies planes without a modeset.
	PageFlip(planes []PlaneState, userData uint64) error

	// Reset discards any presentation that has not completed yet.
	Reset() error

	Events() <-chan Event
}
