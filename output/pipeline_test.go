package output_test

import (
	"image"
	"testing"
	"time"

	"deedles.dev/wlkit/backend/headless"
	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/output"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/render/rendertest"
	"deedles.dev/wlkit/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type job struct {
	work func() error
	done func(error)
}

type timer struct {
	f       func()
	stopped bool
}

// fakeLoop runs everything on the test's goroutine, only when asked
// to.
type fakeLoop struct {
	posted []func() error
	jobs   []job
	timers []*timer
}

func (l *fakeLoop) Post(f func() error) {
	l.posted = append(l.posted, f)
}

func (l *fakeLoop) Go(work func() error, done func(error)) {
	l.jobs = append(l.jobs, job{work: work, done: done})
}

func (l *fakeLoop) AfterFunc(d time.Duration, f func()) func() {
	t := &timer{f: f}
	l.timers = append(l.timers, t)
	return func() { t.stopped = true }
}

// dispatch runs posted functions until there are none left.
func (l *fakeLoop) dispatch() {
	for len(l.posted) > 0 {
		f := l.posted[0]
		l.posted = l.posted[1:]
		f()
	}
}

// finish runs every started job to completion.
func (l *fakeLoop) finish() {
	l.dispatch()
	for len(l.jobs) > 0 {
		j := l.jobs[0]
		l.jobs = l.jobs[1:]
		j.done(j.work())
		l.dispatch()
	}
}

// expire fires every timer that has not been stopped.
func (l *fakeLoop) expire() {
	timers := l.timers
	l.timers = nil
	for _, t := range timers {
		if !t.stopped {
			t.f()
		}
	}
	l.dispatch()
}

var testMode = display.Mode{Size: image.Pt(100, 100), Refresh: 60000}

type env struct {
	t        *testing.T
	loop     *fakeLoop
	surfaces *surface.Manager
	renderer *rendertest.Renderer
	dev      *headless.Device
	out      *output.Output
	pipeline *output.Pipeline
	shown    []*surface.Surface
}

func newEnv(t *testing.T, name string, loop *fakeLoop) *env {
	t.Helper()
	return newEnvWith(t, name, loop, rendertest.New(), output.PipelineConfig{PresentTimeout: time.Second})
}

func newEnvWith(t *testing.T, name string, loop *fakeLoop, renderer *rendertest.Renderer, config output.PipelineConfig) *env {
	t.Helper()

	e := env{
		t:        t,
		loop:     loop,
		surfaces: surface.NewManager(registry.NewClient(), nil),
		renderer: renderer,
		dev:      headless.New(name, headless.WithModes(testMode)),
		out:      output.New(name, output.Info{}, []display.Mode{testMode}),
	}

	ds, err := display.NewSurface(e.dev, nil)
	require.NoError(t, err)

	e.pipeline = output.NewPipeline(e.out, loop, e.renderer, ds, output.SceneFunc(e.scene), config, nil)
	return &e
}

func (e *env) scene(o *output.Output) (elements []render.Element) {
	for _, root := range e.shown {
		root.Walk(image.Point{}, func(s *surface.Surface, loc image.Point) bool {
			state := s.Current()
			elements = append(elements, render.Element{
				Key:         s.ID(),
				Owner:       s,
				Buffer:      state.Buffer,
				Acquire:     state.Acquire,
				Dst:         image.Rectangle{Min: loc, Max: loc.Add(s.Size())},
				Opacity:     1,
				Serial:      s.Serial(),
				DamageSince: s.DamageSince,
			})
			return true
		})
	}
	return elements
}

func (e *env) show(id registry.ID) *surface.Surface {
	s, err := e.surfaces.Create(id)
	require.NoError(e.t, err)
	e.shown = append(e.shown, s)
	return s
}

// vblank delivers the pending presentation of the output's display to
// the pipeline.
func (e *env) vblank() bool {
	ev, ok := e.dev.Vblank()
	if ok {
		e.pipeline.OnPresented(ev)
		e.loop.dispatch()
	}
	return ok
}

// frame renders and presents a full frame.
func (e *env) frame() {
	e.t.Helper()
	e.pipeline.ScheduleRender()
	e.loop.finish()
	require.True(e.t, e.vblank(), "nothing was presented")
}

func newBuffer(t *testing.T, size int) *buffer.Buffer {
	t.Helper()
	buf, err := buffer.NewOffscreen(size, size, buffer.ARGB8888)
	require.NoError(t, err)
	return buf
}

func TestReplacedBufferOutlivesRender(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)

	b1 := newBuffer(t, 64)
	var released bool
	b1.OnRelease(func() { released = true })

	s.Attach(b1, image.Point{})
	s.Damage(image.Rect(0, 0, 64, 64))
	require.NoError(t, s.Commit())
	e.frame()

	b2 := newBuffer(t, 64)
	s.Attach(b2, image.Point{})
	s.Damage(image.Rect(5, 5, 15, 15))
	require.NoError(t, s.Commit())
	assert.False(t, released, "b1 is still on screen")

	e.pipeline.ScheduleRender()
	e.loop.dispatch()
	assert.Equal(t, output.PendingRender, e.pipeline.State())
	assert.False(t, released, "b1 released before render completed")

	e.loop.finish()
	call, ok := e.renderer.Last()
	require.True(t, ok)
	require.Len(t, call.Elements, 1)
	assert.Same(t, b2, call.Elements[0].Buffer)
	assert.Equal(t, output.PendingPresent, e.pipeline.State())

	require.True(t, e.vblank())
	assert.True(t, released)
	assert.Equal(t, output.Idle, e.pipeline.State())

	front, ok := e.dev.Front()
	require.True(t, ok)
	assert.Equal(t, []image.Rectangle{image.Rect(5, 5, 15, 15)}, front.DamageClips)
}

func TestDamageIsAccumulated(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 64), image.Point{})
	require.NoError(t, s.Commit())
	e.frame()

	// The second frame goes to a new buffer, so the third one is drawn
	// into a buffer that is two frames old.
	e.pipeline.Damage(region.New(image.Rect(90, 90, 100, 100)))
	e.loop.finish()
	require.True(t, e.vblank())

	s.Damage(image.Rect(0, 0, 4, 4))
	require.NoError(t, s.Commit())
	s.Damage(image.Rect(20, 20, 24, 24))
	require.NoError(t, s.Commit())

	e.frame()
	call, _ := e.renderer.Last()
	assert.True(t, call.Damage.Covers(image.Rect(0, 0, 4, 4)))
	assert.True(t, call.Damage.Covers(image.Rect(20, 20, 24, 24)))
	assert.True(t, call.Damage.Covers(image.Rect(90, 90, 100, 100)))
	assert.False(t, call.Damage.Contains(image.Pt(50, 50)))
}

func TestUnchangedCommitDoesNotRender(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})
	require.NoError(t, s.Commit())
	e.frame()
	calls := len(e.renderer.Calls())

	require.NoError(t, s.Commit())
	e.pipeline.ScheduleRender()
	e.loop.finish()
	assert.Len(t, e.renderer.Calls(), calls)
	assert.Equal(t, output.Idle, e.pipeline.State())
	assert.False(t, e.dev.Pending())
}

func TestFrameCallbacks(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})

	var fired []registry.ID
	callback := func(id registry.ID) surface.FrameCallback {
		return surface.FrameCallback{ID: id, Done: func(uint32) { fired = append(fired, id) }}
	}

	s.Frame(callback(10))
	s.Frame(callback(11))
	require.NoError(t, s.Commit())
	e.pipeline.ScheduleRender()
	e.loop.finish()
	assert.Empty(t, fired, "callbacks must wait for presentation")
	require.True(t, e.vblank())
	assert.Equal(t, []registry.ID{10, 11}, fired)

	// Nothing changed, but the callback must still be answered.
	calls := len(e.renderer.Calls())
	s.Frame(callback(12))
	require.NoError(t, s.Commit())
	e.frame()
	assert.Equal(t, []registry.ID{10, 11, 12}, fired)
	assert.Len(t, e.renderer.Calls(), calls)
}

func TestBackPressure(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})
	require.NoError(t, s.Commit())

	e.pipeline.ScheduleRender()
	e.loop.finish()
	require.Equal(t, output.PendingPresent, e.pipeline.State())

	s.Damage(image.Rect(0, 0, 1, 1))
	require.NoError(t, s.Commit())
	e.pipeline.ScheduleRender()
	e.pipeline.ScheduleRender()
	e.loop.finish()
	assert.Len(t, e.renderer.Calls(), 1)

	require.True(t, e.vblank())
	assert.Equal(t, output.PendingRender, e.pipeline.State(), "deferred frame starts after presentation")
	e.loop.finish()
	assert.Len(t, e.renderer.Calls(), 2)
}

func TestContextLostRecovers(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})

	var fired int
	s.Frame(surface.FrameCallback{ID: 5, Done: func(uint32) { fired++ }})
	require.NoError(t, s.Commit())

	e.renderer.Fail(render.ErrContextLost)
	e.pipeline.ScheduleRender()
	e.loop.finish()
	assert.Equal(t, output.Idle, e.pipeline.State())
	assert.False(t, e.dev.Pending())
	assert.Zero(t, fired)

	e.frame()
	assert.Equal(t, 1, e.renderer.Resets())
	assert.Equal(t, 1, fired, "callbacks of a dropped frame are carried over")
	call, _ := e.renderer.Last()
	assert.True(t, call.Damage.IsFull() || call.Damage.Covers(image.Rect(0, 0, 100, 100)))
}

func TestOutOfMemoryDropsFrame(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})
	require.NoError(t, s.Commit())

	e.renderer.Fail(render.ErrOutOfMemory)
	e.pipeline.ScheduleRender()
	e.loop.finish()
	assert.Equal(t, output.Idle, e.pipeline.State())
	assert.Equal(t, 1, s.Current().Buffer.Locks(), "dropped frame lets go of its buffers")

	e.frame()
	assert.Zero(t, e.renderer.Resets())
}

func TestPresentTimeoutIsIsolated(t *testing.T) {
	loop := new(fakeLoop)
	shared := rendertest.New()
	config := output.PipelineConfig{PresentTimeout: time.Second}
	o := newEnvWith(t, "O", loop, shared, config)
	p := newEnvWith(t, "P", loop, shared, config)
	for _, e := range []*env{o, p} {
		s := e.show(1)
		s.Attach(newBuffer(t, 8), image.Point{})
		require.NoError(t, s.Commit())
	}

	o.dev.Stall(true)
	o.pipeline.ScheduleRender()
	p.pipeline.ScheduleRender()
	loop.finish()
	assert.False(t, o.vblank())
	require.True(t, p.vblank())

	loop.expire()
	assert.Equal(t, output.Idle, o.pipeline.State())
	assert.Equal(t, output.Idle, p.pipeline.State())

	o.dev.Stall(false)
	o.pipeline.Damage(region.New(image.Rect(0, 0, 1, 1)))
	loop.finish()
	require.True(t, o.vblank())
	assert.Zero(t, shared.Resets(), "a display timeout does not reset the shared renderer")

	commits, _ := o.dev.Commits()
	assert.Equal(t, 1, commits, "presentation after a reset is a full commit")

	calls := len(shared.Calls())
	p.pipeline.Damage(region.New(image.Rect(0, 0, 1, 1)))
	loop.finish()
	require.True(t, p.vblank())
	assert.Len(t, shared.Calls(), calls+1)
	assert.Zero(t, shared.Resets())
}

func TestSharedRendererReset(t *testing.T) {
	loop := new(fakeLoop)
	shared := rendertest.New()
	config := output.PipelineConfig{PresentTimeout: time.Second}
	o := newEnvWith(t, "O", loop, shared, config)
	p := newEnvWith(t, "P", loop, shared, config)
	for _, e := range []*env{o, p} {
		s := e.show(1)
		s.Attach(newBuffer(t, 8), image.Point{})
		require.NoError(t, s.Commit())
		e.frame()
	}

	// Give both of P's buffers known contents so that its next frame
	// would only redraw what changed.
	p.pipeline.Damage(region.New(image.Rect(0, 0, 1, 1)))
	loop.finish()
	require.True(t, p.vblank())

	shared.Fail(render.ErrContextLost)
	o.pipeline.Damage(region.New(image.Rect(0, 0, 1, 1)))
	loop.finish()
	assert.False(t, o.vblank())

	o.pipeline.Damage(region.New(image.Rect(0, 0, 1, 1)))
	loop.finish()
	require.True(t, o.vblank())
	assert.Equal(t, 1, shared.Resets())

	// P did not fail, but everything it made with the renderer is gone.
	p.pipeline.Damage(region.New(image.Rect(0, 0, 1, 1)))
	loop.finish()
	require.True(t, p.vblank())
	assert.Equal(t, 1, shared.Resets())
	call, _ := shared.Last()
	assert.True(t, call.Damage.IsFull() || call.Damage.Covers(image.Rect(0, 0, 100, 100)))
}

func TestSessionPause(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})
	require.NoError(t, s.Commit())

	e.pipeline.ScheduleRender()
	e.loop.dispatch()
	e.pipeline.OnSessionPaused()
	e.loop.finish()
	assert.False(t, e.dev.Pending())

	s.Damage(image.Rect(0, 0, 1, 1))
	require.NoError(t, s.Commit())
	e.pipeline.ScheduleRender()
	e.loop.finish()
	assert.False(t, e.dev.Pending())

	e.pipeline.OnSessionActivated()
	e.loop.finish()
	require.True(t, e.vblank())
	assert.Zero(t, e.renderer.Resets())
}

func TestContinuousRepaint(t *testing.T) {
	e := newEnvWith(t, "O", new(fakeLoop), rendertest.New(), output.PipelineConfig{Continuous: true})
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})
	require.NoError(t, s.Commit())
	e.frame()
	calls := len(e.renderer.Calls())

	for range 3 {
		e.loop.finish()
		require.True(t, e.vblank(), "nothing was presented")
	}
	assert.Equal(t, output.PendingPresent, e.pipeline.State())
	assert.Len(t, e.renderer.Calls(), calls, "unchanged frames are presented without rendering")
}

func TestCloseDiscardsFrameCallbacks(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})

	var done, discarded []registry.ID
	callback := func(id registry.ID) surface.FrameCallback {
		return surface.FrameCallback{
			ID:      id,
			Done:    func(uint32) { done = append(done, id) },
			Discard: func() { discarded = append(discarded, id) },
		}
	}

	s.Frame(callback(10))
	require.NoError(t, s.Commit())
	e.pipeline.ScheduleRender()
	e.loop.finish()
	require.Equal(t, output.PendingPresent, e.pipeline.State())

	e.pipeline.Close()
	assert.Empty(t, done)
	assert.Equal(t, []registry.ID{10}, discarded)
}

func TestDestroyedSurfaceStaysAliveWhileShown(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))
	s := e.show(1)
	buf := newBuffer(t, 8)
	s.Attach(buf, image.Point{})
	require.NoError(t, s.Commit())
	e.frame()

	var freed bool
	buf.OnFree(func() { freed = true })
	buf.Destroy()
	require.NoError(t, s.Destroy())
	e.shown = nil
	assert.False(t, freed, "frame on screen still uses the buffer")

	e.frame()
	assert.True(t, freed)
	_, ok := e.surfaces.Registry().Lookup(1)
	assert.False(t, ok)
}

func TestReconfigure(t *testing.T) {
	e := newEnv(t, "O", new(fakeLoop))

	s := e.show(1)
	s.Attach(newBuffer(t, 8), image.Point{})
	require.NoError(t, s.Commit())
	e.frame()

	e.out.SetTransform(geom.Transform90)
	assert.Equal(t, output.PendingRender, e.pipeline.State())
	e.loop.finish()
	call, _ := e.renderer.Last()
	assert.True(t, call.Damage.Covers(image.Rect(0, 0, 100, 100)))
}
