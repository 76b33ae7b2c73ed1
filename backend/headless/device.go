// Package headless provides a display device and a session that exist
// only in memory. They are useful for tests and for running a
// compositor without any hardware.
package headless

import (
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/display"
)

const (
	PrimaryPlane display.Plane = 1
	CursorPlane  display.Plane = 2
)

var defaultMode = display.Mode{Size: image.Pt(1280, 720), Refresh: 60000, Preferred: true}

type flip struct {
	state    map[display.Plane]display.PlaneConfig
	userData uint64
}

// Device is a virtual display.Device. By default, presentations only
// complete when Vblank is called. It is safe for concurrent use.
type Device struct {
	name   string
	planes []display.PlaneInfo
	modes  []display.Mode
	timed  bool
	now    func() time.Time
	events chan display.Event

	m       sync.Mutex
	current display.Mode
	state   map[display.Plane]display.PlaneConfig
	pending *flip
	timer   *time.Timer
	seq     uint64
	stalled bool
	fail    []error
	commits int
	flips   int
}

type Option func(*Device)

// WithModes sets the modes that the device supports. The first one
// is the initial mode.
func WithModes(modes ...display.Mode) Option {
	return func(d *Device) {
		d.modes = modes
	}
}

// WithTimedVblank makes presentations complete on their own after
// one refresh interval of the current mode.
func WithTimedVblank() Option {
	return func(d *Device) {
		d.timed = true
	}
}

// WithClock sets the source of event timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		d.now = now
	}
}

// New returns a new device with the given name.
func New(name string, opts ...Option) *Device {
	formats := buffer.NewFormatSet(
		buffer.FormatModifier{Format: buffer.ARGB8888, Modifier: buffer.ModifierLinear},
		buffer.FormatModifier{Format: buffer.XRGB8888, Modifier: buffer.ModifierLinear},
	)

	d := Device{
		name: name,
		planes: []display.PlaneInfo{
			{Handle: PrimaryPlane, Type: display.PlanePrimary, Formats: formats},
			{Handle: CursorPlane, Type: display.PlaneCursor, Formats: formats},
		},
		modes:  []display.Mode{defaultMode},
		now:    time.Now,
		events: make(chan display.Event, 64),
		state:  make(map[display.Plane]display.PlaneConfig),
	}
	for _, opt := range opts {
		opt(&d)
	}
	d.current = d.modes[0]

	return &d
}

func (d *Device) Name() string                 { return d.name }
func (d *Device) Modes() []display.Mode        { return slices.Clone(d.modes) }
func (d *Device) Planes() []display.PlaneInfo  { return slices.Clone(d.planes) }
func (d *Device) Events() <-chan display.Event { return d.events }

func (d *Device) CurrentMode() display.Mode {
	d.m.Lock()
	defer d.m.Unlock()
	return d.current
}

func (d *Device) plane(handle display.Plane) (display.PlaneInfo, bool) {
	i := slices.IndexFunc(d.planes, func(p display.PlaneInfo) bool { return p.Handle == handle })
	if i < 0 {
		return display.PlaneInfo{}, false
	}
	return d.planes[i], true
}

func (d *Device) validate(planes []display.PlaneState, mode display.Mode) (map[display.Plane]display.PlaneConfig, error) {
	if !slices.ContainsFunc(d.modes, func(m display.Mode) bool { return (m.Size == mode.Size) && (m.Refresh == mode.Refresh) }) {
		return nil, fmt.Errorf("%v: %w", mode, display.ErrUnsupportedMode)
	}

	state := make(map[display.Plane]display.PlaneConfig, len(d.state))
	for k, v := range d.state {
		state[k] = v
	}

	screen := image.Rectangle{Max: mode.Size}
	for _, ps := range planes {
		info, ok := d.plane(ps.Plane)
		if !ok {
			return nil, fmt.Errorf("plane %v: %w", ps.Plane, display.ErrInvalidPlane)
		}
		if ps.Config == nil {
			delete(state, ps.Plane)
			continue
		}

		c := *ps.Config
		switch {
		case c.FB == nil:
			return nil, fmt.Errorf("plane %v: no framebuffer: %w", ps.Plane, display.ErrInvalidPlane)
		case !info.Formats.Has(c.FB.Format(), c.FB.Modifier()):
			return nil, fmt.Errorf("plane %v: %w", ps.Plane, buffer.UnsupportedFormatError{Format: c.FB.Format(), Modifier: c.FB.Modifier()})
		case c.Src.Empty() || !c.Src.In(image.Rectangle{Max: c.FB.Size()}):
			return nil, fmt.Errorf("plane %v: source %v outside of framebuffer: %w", ps.Plane, c.Src, display.ErrInvalidPlane)
		case c.Dst.Empty() || !c.Dst.Overlaps(screen):
			return nil, fmt.Errorf("plane %v: destination %v not on screen: %w", ps.Plane, c.Dst, display.ErrInvalidPlane)
		case (c.Alpha < 0) || (c.Alpha > 1):
			return nil, fmt.Errorf("plane %v: alpha %v: %w", ps.Plane, c.Alpha, display.ErrInvalidPlane)
		}
		c.DamageClips = slices.Clone(c.DamageClips)
		state[ps.Plane] = c
	}

	if _, ok := state[PrimaryPlane]; !ok {
		return nil, display.ErrNoFramebuffer
	}
	return state, nil
}

func (d *Device) TestState(planes []display.PlaneState, mode *display.Mode) error {
	d.m.Lock()
	defer d.m.Unlock()

	m := d.current
	if mode != nil {
		m = *mode
	}
	_, err := d.validate(planes, m)
	return err
}

func (d *Device) Commit(planes []display.PlaneState, mode display.Mode, userData uint64) error {
	d.m.Lock()
	defer d.m.Unlock()

	if err := d.injected(); err != nil {
		return err
	}
	if d.pending != nil {
		return display.ErrFlipOutstanding
	}

	state, err := d.validate(planes, mode)
	if err != nil {
		return err
	}

	d.current = mode
	d.commits++
	d.queue(flip{state: state, userData: userData})
	return nil
}

func (d *Device) PageFlip(planes []display.PlaneState, userData uint64) error {
	d.m.Lock()
	defer d.m.Unlock()

	if err := d.injected(); err != nil {
		return err
	}
	if d.pending != nil {
		return display.ErrFlipOutstanding
	}

	state, err := d.validate(planes, d.current)
	if err != nil {
		return err
	}

	d.flips++
	d.queue(flip{state: state, userData: userData})
	return nil
}

func (d *Device) queue(f flip) {
	d.pending = &f
	if d.timed {
		d.timer = time.AfterFunc(d.current.Interval(), func() { d.Vblank() })
	}
}

func (d *Device) injected() error {
	if len(d.fail) == 0 {
		return nil
	}
	err := d.fail[0]
	d.fail = d.fail[1:]
	return err
}

// Vblank simulates a vertical blank. If a presentation is waiting and
// the device is not stalled, its planes become visible and an event is
// sent. The event is also returned.
func (d *Device) Vblank() (display.Event, bool) {
	d.m.Lock()
	d.seq++
	if (d.pending == nil) || d.stalled {
		d.m.Unlock()
		return display.Event{}, false
	}

	d.state = d.pending.state
	ev := display.Event{
		Sequence: d.seq,
		Time:     d.now(),
		UserData: d.pending.userData,
	}
	d.pending = nil
	d.timer = nil
	d.m.Unlock()

	select {
	case d.events <- ev:
	default:
	}
	return ev, true
}

// Stall stops presentations from completing until it is called again
// with false, simulating a display that has stopped responding.
func (d *Device) Stall(stalled bool) {
	d.m.Lock()
	defer d.m.Unlock()
	d.stalled = stalled
}

// Fail queues err to be returned by a future Commit or PageFlip.
func (d *Device) Fail(err error) {
	d.m.Lock()
	defer d.m.Unlock()
	d.fail = append(d.fail, err)
}

func (d *Device) Reset() error {
	d.m.Lock()
	defer d.m.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	return nil
}

// Front returns the framebuffer that is currently shown on the primary
// plane, if any.
func (d *Device) Front() (display.PlaneConfig, bool) {
	d.m.Lock()
	defer d.m.Unlock()

	c, ok := d.state[PrimaryPlane]
	return c, ok
}

// Pending reports whether a presentation is waiting for a vblank.
func (d *Device) Pending() bool {
	d.m.Lock()
	defer d.m.Unlock()
	return d.pending != nil
}

// Commits returns the number of full commits and page flips that the
// device has accepted.
func (d *Device) Commits() (commits, flips int) {
	d.m.Lock()
	defer d.m.Unlock()
	return d.commits, d.flips
}
