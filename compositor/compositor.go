// Package compositor ties the pieces of wlkit together into a running
// compositor: a protocol server, a renderer, a set of outputs with
// their frame pipelines and a desktop.Space that arranges client
// surfaces on them.
//
// A State belongs to the loop that it was created with. Its methods
// must only be called from functions running on that loop.
package compositor

import (
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/desktop"
	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/internal/logger"
	"deedles.dev/wlkit/internal/set"
	"deedles.dev/wlkit/loop"
	"deedles.dev/wlkit/output"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/server"
	"deedles.dev/wlkit/session"
	"deedles.dev/wlkit/surface"
	"github.com/charmbracelet/log"
)

// cascade is the distance between the origins of consecutively placed
// windows.
const cascade = 32

// State is a compositor.
type State struct {
	log      *log.Logger
	loop     *loop.Loop
	renderer render.Renderer
	session  session.Session
	config   output.PipelineConfig

	server  *server.Server
	space   *desktop.Space
	heads   []*Head
	windows map[*surface.Surface]*desktop.Window
	shown   map[*desktop.Window][]*output.Output
	placed  int
}

// New returns a compositor that runs on lp and draws with renderer.
// If sess is not nil, output pipelines are paused and resumed along
// with it.
func New(lp *loop.Loop, renderer render.Renderer, sess session.Session, config output.PipelineConfig, l *log.Logger) *State {
	l = logger.Or(l)
	s := State{
		log:      l.WithPrefix("compositor"),
		loop:     lp,
		renderer: renderer,
		session:  sess,
		config:   config,
		server:   server.New(lp, buffer.NewImporter(renderer.Formats()), l),
		space:    desktop.NewSpace(l),
		windows:  make(map[*surface.Surface]*desktop.Window),
		shown:    make(map[*desktop.Window][]*output.Output),
	}

	s.space.OnChange(s.damage)
	s.server.OnCommit(s.commit)
	s.server.OnConnect(func(c *server.Client) {
		s.log.Info("client connected", "client", c.ID())
	})
	s.server.OnDisconnect(func(c *server.Client) {
		s.log.Info("client disconnected", "client", c.ID())
	})

	if sess != nil {
		loop.Listen(lp, sess.Events(), s.sessionEvent)
	}

	return &s
}

func (s *State) Loop() *loop.Loop          { return s.loop }
func (s *State) Server() *server.Server    { return s.server }
func (s *State) Space() *desktop.Space     { return s.space }
func (s *State) Renderer() render.Renderer { return s.renderer }
func (s *State) Heads() []*Head            { return slices.Clone(s.heads) }
func (s *State) Session() session.Session  { return s.session }

// Listen starts accepting clients on a socket at path. See
// server.Server.Listen.
func (s *State) Listen(path string) (string, error) {
	return s.server.Listen(path)
}

// Close disconnects every client and stops every output.
func (s *State) Close() error {
	err := s.server.Close()
	for _, h := range s.heads {
		h.pipeline.Close()
	}
	s.heads = nil
	return err
}

// commit is called whenever a client applies state to one of its
// surfaces.
func (s *State) commit(_ *server.Client, surf *surface.Surface) {
	root, ok := rootOf(surf)
	if !ok {
		return
	}

	w, ok := s.windows[root]
	if !ok {
		w, ok = s.adopt(root)
		if !ok {
			return
		}
	}

	mapped := slices.Contains(s.space.Windows(), w)
	switch {
	case !root.Mapped():
		if mapped {
			s.unmap(w)
		}
		return
	case !mapped:
		// Mapping damages the window's area, which schedules the frame.
		s.space.Map(w, s.place())
		s.shown[w] = s.space.OutputsFor(w)
		return
	}

	// A window that has grown or shrunk needs its old outputs redrawn
	// as well as its new ones.
	outputs := s.space.OutputsFor(w)
	s.redraw(append(slices.Clone(s.shown[w]), outputs...))
	s.shown[w] = outputs
}

func (s *State) unmap(w *desktop.Window) {
	s.space.Unmap(w)
	s.redraw(s.shown[w])
	delete(s.shown, w)
}

// redraw schedules a frame on every output in outputs.
func (s *State) redraw(outputs []*output.Output) {
	seen := make(set.Set[*output.Output], len(outputs))
	for _, o := range outputs {
		if !seen.AddNew(o) {
			continue
		}
		if h, ok := s.head(o); ok {
			h.pipeline.ScheduleRender()
		}
	}
}

// adopt turns a root surface without a role into a window. Surfaces
// are adopted once they have content to show.
func (s *State) adopt(root *surface.Surface) (*desktop.Window, bool) {
	if (root.Role() != surface.RoleNone) || !root.Mapped() {
		return nil, false
	}

	w := desktop.NewWindow(root)
	if err := root.SetRole(surface.RoleToplevel, w); err != nil {
		s.log.Error("adopt surface", "surface", root.ID(), "err", err)
		return nil, false
	}
	s.windows[root] = w
	root.OnDestroy(func(*surface.Surface) {
		delete(s.windows, root)
		s.unmap(w)
	})

	return w, true
}

func rootOf(surf *surface.Surface) (*surface.Surface, bool) {
	for surf.Role() == surface.RoleSubsurface {
		parent, ok := surf.Parent()
		if !ok {
			return nil, false
		}
		surf = parent
	}
	return surf, true
}

// place returns the location for a new window. Windows cascade down
// and to the right from the top left of the first output, starting
// over when they would leave it.
func (s *State) place() image.Point {
	area := image.Rect(0, 0, 1280, 720)
	if len(s.heads) > 0 {
		area = s.heads[0].output.Geometry()
	}

	p := area.Min.Add(image.Pt(s.placed*cascade, s.placed*cascade))
	s.placed++
	if !p.Add(image.Pt(cascade, cascade)).In(area) {
		s.placed = 1
		p = area.Min
	}
	return p
}

// damage redraws area, in global coordinates, on every output that
// shows part of it.
func (s *State) damage(area image.Rectangle) {
	for _, h := range s.heads {
		geometry := h.output.Geometry()
		if !geometry.Overlaps(area) {
			continue
		}
		h.pipeline.Damage(region.New(h.output.ToBuffer(area.Intersect(geometry))))
	}
}

func (s *State) sessionEvent(ev session.Event) {
	s.log.Info("session", "event", ev)

	for _, h := range s.heads {
		switch ev {
		case session.Paused:
			h.display.SetActive(false)
			h.pipeline.OnSessionPaused()
		case session.Activated:
			h.display.SetActive(true)
			h.pipeline.OnSessionActivated()
		}
	}
}

func (s *State) head(o *output.Output) (*Head, bool) {
	i := slices.IndexFunc(s.heads, func(h *Head) bool { return h.output == o })
	if i < 0 {
		return nil, false
	}
	return s.heads[i], true
}

// OutputConfig describes how a device is turned into an output.
type OutputConfig struct {
	Info      output.Info
	Scale     int
	Transform geom.Transform
	// Mode, if it has a size, picks the device mode with the same size
	// and, if it is not zero, refresh rate.
	Mode display.Mode
}

// Head is a display device in use as an output.
type Head struct {
	device   display.Device
	display  *display.Surface
	output   *output.Output
	pipeline *output.Pipeline
	global   *server.OutputGlobal
}

func (h *Head) Device() display.Device       { return h.device }
func (h *Head) Display() *display.Surface    { return h.display }
func (h *Head) Output() *output.Output       { return h.output }
func (h *Head) Pipeline() *output.Pipeline   { return h.pipeline }
func (h *Head) Global() *server.OutputGlobal { return h.global }

// AddOutput starts showing the space on dev. The new output is placed
// to the right of the existing ones and advertised to clients.
func (s *State) AddOutput(dev display.Device, config OutputConfig) (*Head, error) {
	ds, err := display.NewSurface(dev, s.log)
	if err != nil {
		return nil, err
	}

	o := output.New(dev.Name(), config.Info, dev.Modes())
	if config.Mode.Size != (image.Point{}) {
		mode, ok := findMode(dev.Modes(), config.Mode)
		if !ok {
			return nil, fmt.Errorf("output %v: no mode %v", dev.Name(), config.Mode)
		}
		if err := o.SetMode(mode); err != nil {
			return nil, fmt.Errorf("output %v: %w", dev.Name(), err)
		}
	}
	if ds.CurrentMode() != o.Mode() {
		if err := ds.UseMode(o.Mode()); err != nil {
			return nil, fmt.Errorf("output %v: %w", dev.Name(), err)
		}
	}
	if config.Scale > 0 {
		if err := o.SetScale(config.Scale); err != nil {
			return nil, fmt.Errorf("output %v: %w", dev.Name(), err)
		}
	}
	o.SetTransform(config.Transform)
	o.SetLocation(s.nextLocation())

	h := Head{
		device:   dev,
		display:  ds,
		output:   o,
		pipeline: output.NewPipeline(o, s.loop, s.renderer, ds, s.space, s.config, s.log),
	}
	o.OnChange(func(o *output.Output) {
		if ds.PendingMode() != o.Mode() {
			if err := ds.UseMode(o.Mode()); err != nil {
				s.log.Error("change mode", "output", o, "mode", o.Mode(), "err", err)
			}
		}
	})
	loop.Listen(s.loop, ds.Events(), h.pipeline.OnPresented)

	s.heads = append(s.heads, &h)
	s.space.AddOutput(o)
	h.global = s.server.AddOutput(o)
	if (s.session != nil) && !s.session.Active() {
		ds.SetActive(false)
		h.pipeline.OnSessionPaused()
	}
	h.pipeline.ScheduleRender()

	s.log.Info("output added", "output", o, "mode", o.Mode(), "location", o.Location())
	return &h, nil
}

// RemoveOutput stops showing anything on h and withdraws its output
// from clients.
func (s *State) RemoveOutput(h *Head) {
	i := slices.Index(s.heads, h)
	if i < 0 {
		return
	}
	s.heads = slices.Delete(s.heads, i, i+1)

	s.server.RemoveOutput(h.global)
	s.space.RemoveOutput(h.output)
	h.pipeline.Close()
	s.log.Info("output removed", "output", h.output)
}

func (s *State) nextLocation() image.Point {
	var x int
	for _, h := range s.heads {
		x = max(x, h.output.Geometry().Max.X)
	}
	return image.Pt(x, 0)
}

func findMode(modes []display.Mode, want display.Mode) (display.Mode, bool) {
	i := slices.IndexFunc(modes, func(m display.Mode) bool {
		return (m.Size == want.Size) && ((want.Refresh == 0) || (m.Refresh == want.Refresh))
	})
	if i < 0 {
		return display.Mode{}, false
	}
	return modes[i], true
}
