package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/internal/logger"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/surface"
	"github.com/charmbracelet/log"
)

var errSessionPaused = errors.New("session paused")

// Loop is the event loop that a Pipeline runs on. Every method of the
// Pipeline must be called from the loop.
type Loop interface {
	// Post runs f on the loop later.
	Post(f func() error)

	// Go runs work on another goroutine and then done on the loop.
	Go(work func() error, done func(error))

	// AfterFunc runs f on the loop after d unless stop is called first.
	AfterFunc(d time.Duration, f func()) (stop func())
}

// Presenter shows rendered frames. A display.Surface is a Presenter.
type Presenter interface {
	// Present starts showing fb. Once it is visible, an event carrying
	// userData must be passed to the pipeline's OnPresented.
	Present(fb *buffer.Buffer, damage region.Region, userData uint64) error

	// ResetState discards any presentation in progress and prepares for
	// new ones after a failure.
	ResetState() error
}

// Scene provides the elements to draw on an output, back to front, in
// framebuffer pixels.
type Scene interface {
	Elements(o *Output) []render.Element
}

// SceneFunc is a Scene implemented by a function.
type SceneFunc func(o *Output) []render.Element

func (f SceneFunc) Elements(o *Output) []render.Element { return f(o) }

type frameSource interface {
	TakeFrameCallbacks() []surface.FrameCallback
}

// State is the state of a Pipeline.
type State uint8

const (
	Idle State = iota
	PendingRender
	PendingPresent
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingRender:
		return "pending render"
	case PendingPresent:
		return "pending present"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// PresentTimeout is how long a presentation may take before the
	// display is considered lost. Zero disables the timeout.
	PresentTimeout time.Duration

	// Continuous makes the pipeline render a new frame every time one
	// is presented, whether anything changed or not.
	Continuous bool

	SwapchainLength int
	Format          buffer.Format
}

type texture struct {
	tex render.Texture
	gen uint64
}

type frame struct {
	seq       uint64
	slot      *Slot
	plan      Plan
	buffers   []*buffer.Buffer
	owners    []render.Owner
	guards    []*buffer.Guard
	callbacks []surface.FrameCallback
}

func (f *frame) releaseGuards() {
	for _, g := range f.guards {
		g.Release()
	}
	f.guards = nil
}

func (f *frame) release() {
	f.releaseGuards()
	for _, b := range f.buffers {
		b.Unlock()
	}
	for _, o := range f.owners {
		o.Unref()
	}
	f.buffers = nil
	f.owners = nil
}

// Pipeline turns the scene into frames on a single output. At most
// one frame is being rendered or presented at a time. Requests for new
// frames that arrive in the meantime are merged into a single one that
// starts when the current frame has been presented.
type Pipeline struct {
	out       *Output
	loop      Loop
	renderer  render.Renderer
	presenter Presenter
	scene     Scene
	config    PipelineConfig
	log       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	swapchain  *Swapchain
	tracker    *DamageTracker
	textures   map[*buffer.Buffer]texture
	generation uint64

	state       State
	needsRender bool
	needsReset  bool
	contextLost bool
	paused      bool
	closed      bool

	seq       uint64
	inflight  *frame
	front     *frame
	carried   []surface.FrameCallback
	stopTimer func()

	afterPresent []func(display.Event)
}

func NewPipeline(out *Output, loop Loop, renderer render.Renderer, presenter Presenter, scene Scene, config PipelineConfig, l *log.Logger) *Pipeline {
	if config.SwapchainLength <= 0 {
		config.SwapchainLength = 2
	}
	if config.Format == 0 {
		config.Format = buffer.XRGB8888
	}

	size := out.Mode().Size
	ctx, cancel := context.WithCancel(context.Background())
	p := Pipeline{
		out:        out,
		loop:       loop,
		renderer:   renderer,
		presenter:  presenter,
		scene:      scene,
		config:     config,
		log:        logger.Or(l).WithPrefix("output").With("output", out.Name()),
		ctx:        ctx,
		cancel:     cancel,
		swapchain:  NewSwapchain(renderer, size, config.Format, config.SwapchainLength),
		tracker:    NewDamageTracker(size),
		generation: render.Generation(renderer),
	}
	out.OnChange(p.reconfigure)

	return &p
}

func (p *Pipeline) Output() *Output {
	return p.out
}

func (p *Pipeline) State() State {
	return p.state
}

// AfterPresent registers f to be called every time a frame has been
// presented.
func (p *Pipeline) AfterPresent(f func(display.Event)) {
	p.afterPresent = append(p.afterPresent, f)
}

// ScheduleRender requests a new frame. If one is already being made,
// another is made after it.
func (p *Pipeline) ScheduleRender() {
	if p.closed {
		return
	}
	if p.paused || (p.state != Idle) {
		p.needsRender = true
		return
	}

	p.state = PendingRender
	p.needsRender = false
	p.loop.Post(func() error {
		p.render()
		return nil
	})
}

// Damage marks r, in framebuffer pixels, as needing a redraw and
// schedules a frame.
func (p *Pipeline) Damage(r region.Region) {
	p.tracker.AddDamage(r)
	p.ScheduleRender()
}

func (p *Pipeline) reconfigure(o *Output) {
	size := o.Mode().Size
	p.log.Info("reconfigured", "mode", o.Mode(), "scale", o.Scale(), "transform", o.Transform())

	p.swapchain.Reset(size)
	p.tracker.Reset(size)
	p.ScheduleRender()
}

// reset prepares the display for new frames after a failure. The
// renderer, which may be shared with other outputs, is only reset if
// it lost its context while rendering for this one.
func (p *Pipeline) reset() error {
	var errs []error
	if p.contextLost {
		errs = append(errs, render.Reset(p.renderer))
	}
	errs = append(errs, p.presenter.ResetState())
	if err := errors.Join(errs...); err != nil {
		return err
	}

	p.contextLost = false
	p.needsReset = false
	p.forget()
	p.log.Info("reinitialized")
	return nil
}

// forget drops everything that was made with the renderer and starts
// over with a full redraw.
func (p *Pipeline) forget() {
	size := p.out.Mode().Size
	p.textures = nil
	p.generation = render.Generation(p.renderer)
	p.swapchain.Reset(size)
	p.tracker.Reset(size)
}

func (p *Pipeline) collect() []render.Element {
	elements := p.scene.Elements(p.out)
	textures := make(map[*buffer.Buffer]texture, len(elements))

	out := elements[:0]
	for _, e := range elements {
		if (e.Buffer != nil) && (e.Texture == nil) {
			t, ok := textures[e.Buffer]
			if !ok {
				t, ok = p.textures[e.Buffer]
			}
			if !ok || (t.gen != e.Buffer.Generation()) {
				tex, err := p.renderer.ImportBuffer(e.Buffer)
				if err != nil {
					p.log.Warn("skipping element", "buffer", e.Buffer.ID(), "err", err)
					continue
				}
				t = texture{tex: tex, gen: e.Buffer.Generation()}
			}
			textures[e.Buffer] = t
			e.Texture = t.tex
		}
		out = append(out, e)
	}

	p.textures = textures
	return out
}

func (p *Pipeline) callbacks(elements []render.Element) []surface.FrameCallback {
	callbacks := p.carried
	p.carried = nil

	seen := make(map[render.Owner]struct{})
	for _, e := range elements {
		if e.Owner == nil {
			continue
		}
		if _, ok := seen[e.Owner]; ok {
			continue
		}
		seen[e.Owner] = struct{}{}

		if src, ok := e.Owner.(frameSource); ok {
			callbacks = append(callbacks, src.TakeFrameCallbacks()...)
		}
	}
	return callbacks
}

func (p *Pipeline) render() {
	if p.closed {
		return
	}
	if p.paused {
		p.state = Idle
		p.needsRender = true
		return
	}

	if p.needsReset {
		if err := p.reset(); err != nil {
			p.log.Error("reinitialize failed", "err", err)
			p.state = Idle
			return
		}
	}
	if render.Generation(p.renderer) != p.generation {
		p.log.Info("renderer was reset")
		p.forget()
	}

	elements := p.collect()
	slot, err := p.swapchain.Acquire()
	if err != nil {
		p.fail(&frame{callbacks: p.callbacks(elements)}, err)
		return
	}

	plan := p.tracker.Plan(elements, slot.Age())
	p.seq++
	f := frame{
		seq:       p.seq,
		plan:      plan,
		callbacks: p.callbacks(elements),
	}

	if plan.Frame.Empty() {
		// With nothing to draw, the frame on screen is shown again if
		// something is waiting for a presentation.
		p.swapchain.Cancel(slot)
		if (p.front == nil) || ((len(f.callbacks) == 0) && !p.config.Continuous) {
			p.carried = f.callbacks
			p.state = Idle
			return
		}

		p.present(&f, p.front.slot.Target().Buffer())
		return
	}

	f.slot = slot
	for i := range elements {
		e := &elements[i]
		if e.Buffer != nil {
			if e.Buffer.Locks() == 0 {
				panic(fmt.Errorf("element %v: buffer %v is not committed", e.Key, e.Buffer.ID()))
			}

			e.Buffer.Lock()
			f.buffers = append(f.buffers, e.Buffer)

			g := e.Buffer.AcquireRead(e.Acquire)
			f.guards = append(f.guards, g)
			e.Acquire = g.Fence()
		}
		if e.Owner != nil {
			e.Owner.Ref()
			f.owners = append(f.owners, e.Owner)
		}
	}

	ctx := p.ctx
	target := slot.Target()
	damage := plan.Buffer
	p.loop.Go(
		func() error { return p.renderer.Render(ctx, target, elements, damage) },
		func(err error) { p.rendered(&f, err) },
	)
}

func (p *Pipeline) rendered(f *frame, err error) {
	f.releaseGuards()
	switch {
	case p.closed:
		f.release()
		surface.DiscardFrames(f.callbacks)
		return
	case err != nil:
		p.fail(f, err)
		return
	case p.paused:
		p.fail(f, errSessionPaused)
		return
	}

	p.present(f, f.slot.Target().Buffer())
}

func (p *Pipeline) present(f *frame, fb *buffer.Buffer) {
	err := p.presenter.Present(fb, f.plan.Frame, f.seq)
	if err != nil {
		p.fail(f, err)
		return
	}

	if f.slot != nil {
		p.swapchain.Queue(f.slot)
		p.tracker.Commit(f.plan)
	}

	p.inflight = f
	p.state = PendingPresent
	if p.config.PresentTimeout > 0 {
		seq := f.seq
		p.stopTimer = p.loop.AfterFunc(p.config.PresentTimeout, func() { p.timeout(seq) })
	}
}

// fail drops f. Its frame callbacks are carried over to the next frame.
func (p *Pipeline) fail(f *frame, err error) {
	f.release()
	if f.slot != nil {
		p.swapchain.Release(f.slot)
	}
	p.carried = append(f.callbacks, p.carried...)
	p.state = Idle

	switch {
	case errors.Is(err, errSessionPaused):
		p.needsReset = true
	case errors.Is(err, render.ErrOutOfMemory):
		p.log.Warn("frame dropped", "seq", f.seq, "err", err)
	case errors.Is(err, render.ErrContextLost):
		p.log.Warn("context lost", "seq", f.seq, "err", err)
		p.needsReset = true
		p.contextLost = true
	case errors.Is(err, display.ErrPresentTimeout):
		p.log.Warn("presentation lost", "seq", f.seq, "err", err)
		p.needsReset = true
	default:
		p.log.Error("frame failed", "seq", f.seq, "err", err)
		p.needsReset = true
	}

	if p.needsRender {
		p.ScheduleRender()
	}
}

func (p *Pipeline) timeout(seq uint64) {
	if (p.inflight == nil) || (p.inflight.seq != seq) {
		return
	}

	f := p.inflight
	p.inflight = nil
	p.stopTimer = nil
	p.fail(f, fmt.Errorf("frame %v after %v: %w", seq, p.config.PresentTimeout, display.ErrPresentTimeout))
}

// OnPresented must be called when the display reports that a frame
// has been presented.
func (p *Pipeline) OnPresented(ev display.Event) {
	f := p.inflight
	if (f == nil) || (ev.UserData != f.seq) {
		p.log.Debug("ignoring stale presentation", "seq", ev.UserData)
		return
	}

	if p.stopTimer != nil {
		p.stopTimer()
		p.stopTimer = nil
	}
	p.inflight = nil

	if f.slot != nil {
		p.swapchain.Presented(f.slot)
		if p.front != nil {
			p.front.release()
		}
		p.front = f
	}

	msec := uint32(ev.Time.UnixMilli())
	for _, cb := range f.callbacks {
		cb.Done(msec)
	}
	f.callbacks = nil

	p.state = Idle
	for _, h := range p.afterPresent {
		h(ev)
	}

	if p.needsRender || p.config.Continuous {
		p.ScheduleRender()
	}
}

// OnSessionPaused stops the pipeline until OnSessionActivated is
// called. A frame in flight is dropped.
func (p *Pipeline) OnSessionPaused() {
	if p.paused {
		return
	}
	p.paused = true

	if f := p.inflight; f != nil {
		if p.stopTimer != nil {
			p.stopTimer()
			p.stopTimer = nil
		}
		p.inflight = nil
		p.fail(f, errSessionPaused)
	}
}

// OnSessionActivated resumes the pipeline, with a full redraw.
func (p *Pipeline) OnSessionActivated() {
	if !p.paused {
		return
	}
	p.paused = false
	p.needsReset = true
	p.ScheduleRender()
}

// Close stops the pipeline and lets go of every buffer that it holds.
// Frame callbacks that have not been sent are discarded.
func (p *Pipeline) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()

	if p.stopTimer != nil {
		p.stopTimer()
		p.stopTimer = nil
	}
	if p.inflight != nil {
		p.inflight.release()
		surface.DiscardFrames(p.inflight.callbacks)
		p.inflight = nil
	}
	if p.front != nil {
		p.front.release()
		p.front = nil
	}
	surface.DiscardFrames(p.carried)
	p.carried = nil
	p.textures = nil
}
