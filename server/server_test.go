package server

import (
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"testing"
	"time"

	"deedles.dev/wlkit/buffer"
	wldisplay "deedles.dev/wlkit/display"
	"deedles.dev/wlkit/loop"
	"deedles.dev/wlkit/output"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/shm"
	"deedles.dev/wlkit/surface"
	"deedles.dev/wlkit/wire"
	"deedles.dev/wlkit/wlerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	t      *testing.T
	loop   *loop.Loop
	server *Server
	path   string
}

func newEnv(t *testing.T, setup func(*Server)) *env {
	t.Helper()

	lp := loop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go lp.Run(ctx)
	t.Cleanup(cancel)

	formats := buffer.NewFormatSet(
		buffer.FormatModifier{Format: buffer.ARGB8888, Modifier: buffer.ModifierLinear},
		buffer.FormatModifier{Format: buffer.XRGB8888, Modifier: buffer.ModifierLinear},
	)
	srv := New(lp, buffer.NewImporter(formats), nil)
	if setup != nil {
		setup(srv)
	}

	path := filepath.Join(t.TempDir(), "wayland-test")
	_, err := srv.Listen(path)
	require.NoError(t, err)

	e := env{t: t, loop: lp, server: srv, path: path}
	t.Cleanup(func() { e.do(func() { srv.Close() }) })
	return &e
}

// do runs f on the loop and waits for it to finish.
func (e *env) do(f func()) {
	done := make(chan struct{})
	e.loop.Post(func() error {
		defer close(done)
		f()
		return nil
	})
	<-done
}

type testClient struct {
	t    *testing.T
	conn *wire.Conn
	next uint32
}

func (e *env) dial() *testClient {
	conn, err := wire.DialPath(e.path)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { conn.Close() })
	return &testClient{t: e.t, conn: conn, next: 1}
}

func (tc *testClient) newID() uint32 {
	tc.next++
	return tc.next
}

func (tc *testClient) request(sender uint32, op uint16, args func(*wire.MessageBuilder)) {
	msg := wire.NewMessage(sender, op)
	if args != nil {
		args(msg)
	}
	require.NoError(tc.t, msg.Build(tc.conn))
}

func (tc *testClient) read() (*wire.MessageBuffer, error) {
	tc.conn.Raw().SetReadDeadline(time.Now().Add(5 * time.Second))
	return wire.ReadMessage(tc.conn)
}

// roundtrip sends wl_display.sync and returns every event received
// before the callback fired.
func (tc *testClient) roundtrip() []*wire.MessageBuffer {
	cb := tc.newID()
	tc.request(1, displaySync, func(msg *wire.MessageBuilder) { msg.WriteUint(cb) })

	var events []*wire.MessageBuffer
	for {
		ev, err := tc.read()
		require.NoError(tc.t, err)
		if (ev.Sender() == cb) && (ev.Op() == callbackDone) {
			return events
		}
		events = append(events, ev)
	}
}

func (tc *testClient) bind(reg uint32, name uint32, iface string, version uint32) uint32 {
	id := tc.newID()
	tc.request(reg, registryBind, func(msg *wire.MessageBuilder) {
		msg.WriteUint(name)
		msg.WriteNewID(wire.NewID{Interface: iface, Version: version, ID: id})
	})
	return id
}

type global struct {
	name    uint32
	iface   string
	version uint32
}

func (tc *testClient) registry() (uint32, map[string]global) {
	reg := tc.newID()
	tc.request(1, displayGetRegistry, func(msg *wire.MessageBuilder) { msg.WriteUint(reg) })

	globals := make(map[string]global)
	for _, ev := range tc.roundtrip() {
		if (ev.Sender() == reg) && (ev.Op() == registryGlobal) {
			g := global{name: ev.ReadUint(), iface: ev.ReadString(), version: ev.ReadUint()}
			globals[g.iface] = g
		}
	}
	return reg, globals
}

func filter(events []*wire.MessageBuffer, sender uint32) (out []*wire.MessageBuffer) {
	for _, ev := range events {
		if ev.Sender() == sender {
			out = append(out, ev)
		}
	}
	return out
}

func newOutput() *output.Output {
	return output.New("HEADLESS-1", output.Info{Make: "wlkit", Model: "headless"}, []wldisplay.Mode{
		{Size: image.Pt(640, 480), Refresh: 60000, Preferred: true},
	})
}

func TestGlobals(t *testing.T) {
	o := newOutput()
	e := newEnv(t, func(srv *Server) { srv.AddOutput(o) })
	tc := e.dial()

	reg, globals := tc.registry()
	assert.Equal(t, uint32(6), globals["wl_compositor"].version)
	assert.Equal(t, uint32(1), globals["wl_subcompositor"].version)
	assert.Equal(t, uint32(2), globals["wl_shm"].version)
	assert.Equal(t, uint32(4), globals["wl_output"].version)

	var second *OutputGlobal
	e.do(func() { second = e.server.AddOutput(newOutput()) })
	events := filter(tc.roundtrip(), reg)
	require.Len(t, events, 1)
	assert.Equal(t, uint16(registryGlobal), events[0].Op())
	assert.Equal(t, second.Global().Name(), events[0].ReadUint())

	e.do(func() { e.server.RemoveOutput(second) })
	events = filter(tc.roundtrip(), reg)
	require.Len(t, events, 1)
	assert.Equal(t, uint16(registryGlobalRemove), events[0].Op())
	assert.Equal(t, second.Global().Name(), events[0].ReadUint())
}

func TestBindOutput(t *testing.T) {
	o := newOutput()
	e := newEnv(t, func(srv *Server) { srv.AddOutput(o) })
	tc := e.dial()

	reg, globals := tc.registry()
	id := tc.bind(reg, globals["wl_output"].name, "wl_output", 4)
	events := filter(tc.roundtrip(), id)

	ops := make([]uint16, 0, len(events))
	for _, ev := range events {
		ops = append(ops, ev.Op())
	}
	assert.Equal(t, []uint16{outputGeometry, outputMode, outputScale, outputName, outputDescription, outputDone}, ops)

	mode := events[1]
	assert.Equal(t, uint32(outputModeCurrent|outputModePreferred), mode.ReadUint())
	assert.Equal(t, int32(640), mode.ReadInt())
	assert.Equal(t, int32(480), mode.ReadInt())
	assert.Equal(t, int32(60000), mode.ReadInt())
	assert.Equal(t, "HEADLESS-1", events[3].ReadString())

	e.do(func() { assert.NoError(t, o.SetScale(2)) })
	events = filter(tc.roundtrip(), id)
	require.Len(t, events, 6)
	assert.Equal(t, int32(2), events[2].ReadInt())

	tc.bind(reg, globals["wl_output"].name, "wl_output", 5)
	ev, err := tc.read()
	require.NoError(t, err)
	require.Equal(t, uint32(1), ev.Sender())
	require.Equal(t, uint16(displayError), ev.Op())
	assert.Equal(t, reg, ev.ReadObject())
	assert.Equal(t, wlerr.DisplayInvalidObject, ev.ReadUint())
}

type shmClient struct {
	*testClient
	compositor uint32
	pool       uint32
}

func (e *env) shmClient(poolSize int) *shmClient {
	tc := e.dial()
	reg, globals := tc.registry()
	comp := tc.bind(reg, globals["wl_compositor"].name, "wl_compositor", 6)
	shmID := tc.bind(reg, globals["wl_shm"].name, "wl_shm", 1)

	var formats []uint32
	for _, ev := range filter(tc.roundtrip(), shmID) {
		formats = append(formats, ev.ReadUint())
	}
	assert.Equal(e.t, []uint32{0, 1}, formats)

	file, err := shm.Create("wlkit-test", poolSize)
	require.NoError(e.t, err)
	defer file.Close()

	pool := tc.newID()
	tc.request(shmID, shmCreatePool, func(msg *wire.MessageBuilder) {
		msg.WriteUint(pool)
		msg.WriteFile(file)
		msg.WriteInt(int32(poolSize))
	})
	return &shmClient{testClient: tc, compositor: comp, pool: pool}
}

func (sc *shmClient) buffer(offset int) uint32 {
	id := sc.newID()
	sc.request(sc.pool, shmPoolCreateBuffer, func(msg *wire.MessageBuilder) {
		msg.WriteUint(id)
		msg.WriteInt(int32(offset))
		msg.WriteInt(4)
		msg.WriteInt(4)
		msg.WriteInt(16)
		msg.WriteUint(0)
	})
	return id
}

func (sc *shmClient) surface() uint32 {
	id := sc.newID()
	sc.request(sc.compositor, compositorCreateSurface, func(msg *wire.MessageBuilder) { msg.WriteUint(id) })
	return id
}

func (sc *shmClient) attachAndCommit(surface, buf uint32) {
	sc.request(surface, surfaceAttach, func(msg *wire.MessageBuilder) {
		msg.WriteObject(buf)
		msg.WriteInt(0)
		msg.WriteInt(0)
	})
	sc.request(surface, surfaceDamage, func(msg *wire.MessageBuilder) {
		msg.WriteInt(0)
		msg.WriteInt(0)
		msg.WriteInt(4)
		msg.WriteInt(4)
	})
	sc.request(surface, surfaceCommit, nil)
}

func TestSurfaceCommitAndRelease(t *testing.T) {
	commits := make(chan image.Point, 4)
	e := newEnv(t, func(srv *Server) {
		srv.OnCommit(func(c *Client, s *surface.Surface) {
			commits <- s.Current().Buffer.Size()
		})
	})
	sc := e.shmClient(128)

	first := sc.buffer(0)
	second := sc.buffer(64)
	surf := sc.surface()

	sc.attachAndCommit(surf, first)
	assert.Empty(t, filter(sc.roundtrip(), first))
	assert.Equal(t, image.Pt(4, 4), <-commits)

	sc.attachAndCommit(surf, second)
	events := filter(sc.roundtrip(), first)
	require.Len(t, events, 1)
	assert.Equal(t, uint16(bufferRelease), events[0].Op())
	assert.Equal(t, image.Pt(4, 4), <-commits)
}

func TestFrameCallback(t *testing.T) {
	clients := make(chan *Client, 1)
	e := newEnv(t, func(srv *Server) { srv.OnConnect(func(c *Client) { clients <- c }) })
	sc := e.shmClient(64)
	c := <-clients

	surf := sc.surface()
	cb := sc.newID()
	sc.request(surf, surfaceFrame, func(msg *wire.MessageBuilder) { msg.WriteUint(cb) })
	sc.attachAndCommit(surf, sc.buffer(0))
	sc.roundtrip()

	e.do(func() {
		s, ok := c.Surfaces().Get(registry.ID(surf))
		if !assert.True(t, ok) {
			return
		}
		for _, f := range s.TakeFrameCallbacks() {
			f.Done(1234)
		}
	})

	events := sc.roundtrip()
	done := filter(events, cb)
	require.Len(t, done, 1)
	assert.Equal(t, uint32(1234), done[0].ReadUint())

	var deleted []uint32
	for _, ev := range filter(events, 1) {
		if ev.Op() == displayDeleteID {
			deleted = append(deleted, ev.ReadUint())
		}
	}
	assert.Contains(t, deleted, cb)
}

func TestDestroyedSurfaceFreesFrameCallback(t *testing.T) {
	e := newEnv(t, nil)
	sc := e.shmClient(64)

	surf := sc.surface()
	cb := sc.newID()
	sc.request(surf, surfaceFrame, func(msg *wire.MessageBuilder) { msg.WriteUint(cb) })
	sc.attachAndCommit(surf, sc.buffer(0))
	sc.roundtrip()

	sc.request(surf, surfaceDestroy, nil)
	events := sc.roundtrip()
	assert.Empty(t, filter(events, cb), "discarded callback is never done")

	var deleted []uint32
	for _, ev := range filter(events, 1) {
		if ev.Op() == displayDeleteID {
			deleted = append(deleted, ev.ReadUint())
		}
	}
	assert.Contains(t, deleted, cb)
}

func TestProtocolError(t *testing.T) {
	e := newEnv(t, nil)
	sc := e.shmClient(64)

	surf := sc.surface()
	sc.request(surf, surfaceSetBufferScale, func(msg *wire.MessageBuilder) { msg.WriteInt(0) })

	ev, err := sc.read()
	require.NoError(t, err)
	require.Equal(t, uint16(displayError), ev.Op())
	assert.Equal(t, surf, ev.ReadObject())
	assert.Equal(t, wlerr.SurfaceInvalidScale, ev.ReadUint())

	_, err = sc.read()
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF), "connection should be closed: %v", err)
}

func TestInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		send   func(tc *testClient)
		object uint32
		code   uint32
	}{
		{
			name:   "UnknownObject",
			send:   func(tc *testClient) { tc.request(50, 0, nil) },
			object: 50,
			code:   wlerr.DisplayInvalidObject,
		},
		{
			name:   "UnknownOpcode",
			send:   func(tc *testClient) { tc.request(1, 9, nil) },
			object: 1,
			code:   wlerr.DisplayInvalidMethod,
		},
		{
			name:   "TruncatedArguments",
			send:   func(tc *testClient) { tc.request(1, displayGetRegistry, nil) },
			object: 1,
			code:   wlerr.DisplayInvalidMethod,
		},
		{
			name:   "ServerRangeID",
			send:   func(tc *testClient) { tc.request(1, displayGetRegistry, func(msg *wire.MessageBuilder) { msg.WriteUint(0xff000001) }) },
			object: 1,
			code:   wlerr.DisplayInvalidObject,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newEnv(t, nil)
			tc := e.dial()
			test.send(tc)

			ev, err := tc.read()
			require.NoError(t, err)
			require.Equal(t, uint16(displayError), ev.Op())
			assert.Equal(t, test.object, ev.ReadObject())
			assert.Equal(t, test.code, ev.ReadUint())
		})
	}
}

func TestDisconnectTearsDown(t *testing.T) {
	gone := make(chan *Client, 1)
	e := newEnv(t, func(srv *Server) { srv.OnDisconnect(func(c *Client) { gone <- c }) })
	sc := e.shmClient(64)

	surf := sc.surface()
	sc.attachAndCommit(surf, sc.buffer(0))
	sc.roundtrip()
	sc.conn.Close()

	select {
	case c := <-gone:
		e.do(func() {
			assert.Zero(t, c.Objects().Len())
			assert.Empty(t, e.server.Clients())
		})
	case <-time.After(5 * time.Second):
		t.Fatal("client was not torn down")
	}
}

func TestSubsurfaceErrors(t *testing.T) {
	e := newEnv(t, nil)
	tc := e.dial()
	reg, globals := tc.registry()
	sub := tc.bind(reg, globals["wl_subcompositor"].name, "wl_subcompositor", 1)
	comp := tc.bind(reg, globals["wl_compositor"].name, "wl_compositor", 6)

	surf := tc.newID()
	tc.request(comp, compositorCreateSurface, func(msg *wire.MessageBuilder) { msg.WriteUint(surf) })

	id := tc.newID()
	tc.request(sub, subcompositorGetSubsurface, func(msg *wire.MessageBuilder) {
		msg.WriteUint(id)
		msg.WriteObject(surf)
		msg.WriteObject(surf)
	})

	ev, err := tc.read()
	require.NoError(t, err)
	require.Equal(t, uint16(displayError), ev.Op())
	assert.Equal(t, sub, ev.ReadObject())
	assert.Equal(t, wlerr.SubcompositorBadParent, ev.ReadUint())
}
