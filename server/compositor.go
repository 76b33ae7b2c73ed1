package server

import (
	"image"

	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/surface"
	"deedles.dev/wlkit/wire"
	"deedles.dev/wlkit/wlerr"
)

const (
	compositorCreateSurface = 0
	compositorCreateRegion  = 1
)

const (
	surfaceDestroy            = 0
	surfaceAttach             = 1
	surfaceDamage             = 2
	surfaceFrame              = 3
	surfaceSetOpaqueRegion    = 4
	surfaceSetInputRegion     = 5
	surfaceCommit             = 6
	surfaceSetBufferTransform = 7
	surfaceSetBufferScale     = 8
	surfaceDamageBuffer       = 9
	surfaceOffset             = 10
)

const (
	regionDestroy  = 0
	regionAdd      = 1
	regionSubtract = 2
)

const (
	subcompositorDestroy       = 0
	subcompositorGetSubsurface = 1
)

const (
	subsurfaceDestroy     = 0
	subsurfaceSetPosition = 1
	subsurfacePlaceAbove  = 2
	subsurfacePlaceBelow  = 3
	subsurfaceSetSync     = 4
	subsurfaceSetDesync   = 5
)

func rect(x, y, width, height int32) image.Rectangle {
	return image.Rect(int(x), int(y), int(x)+int(width), int(y)+int(height))
}

type compositor struct {
	c       *Client
	id      registry.ID
	version uint32
}

func bindCompositor(c *Client, id registry.ID, version uint32) error {
	return c.insert(displayID, id, registry.KindCompositor, version, &compositor{c: c, id: id, version: version})
}

func (comp *compositor) Interface() string { return "wl_compositor" }

func (comp *compositor) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case compositorCreateSurface:
		id := registry.ID(msg.ReadUint())
		if err := msg.Err(); err != nil {
			return err
		}

		if _, err := comp.c.surfaces.Create(id); err != nil {
			return wlerr.Wrap(comp.id, wlerr.DisplayInvalidObject, err)
		}
		comp.c.track(id, comp.version)
		return nil

	case compositorCreateRegion:
		id := registry.ID(msg.ReadUint())
		if err := msg.Err(); err != nil {
			return err
		}
		return comp.c.insert(comp.id, id, registry.KindRegion, 1, &regionObject{c: comp.c, id: id})
	}

	return nil
}

type regionObject struct {
	c  *Client
	id registry.ID
	r  region.Region
}

func (r *regionObject) Interface() string { return "wl_region" }

func (r *regionObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case regionDestroy:
		return r.c.objects.Destroy(r.id)

	case regionAdd, regionSubtract:
		x, y := msg.ReadInt(), msg.ReadInt()
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}

		if msg.Op() == regionAdd {
			r.r.Add(rect(x, y, w, h))
			return nil
		}
		r.r.Subtract(rect(x, y, w, h))
		return nil
	}

	return nil
}

// surfaceObject dispatches wl_surface requests. The surface itself is
// what is stored in the registry.
type surfaceObject struct {
	c *Client
	s *surface.Surface
}

func (obj *surfaceObject) Interface() string { return "wl_surface" }

func (obj *surfaceObject) Dispatch(msg *wire.MessageBuffer) error {
	s := obj.s
	id := s.ID()

	switch msg.Op() {
	case surfaceDestroy:
		return s.Destroy()

	case surfaceAttach:
		bid := registry.ID(msg.ReadObject())
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		return obj.attach(bid, image.Pt(int(x), int(y)))

	case surfaceDamage, surfaceDamageBuffer:
		x, y := msg.ReadInt(), msg.ReadInt()
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}

		if msg.Op() == surfaceDamage {
			s.Damage(rect(x, y, w, h))
			return nil
		}
		s.DamageBuffer(rect(x, y, w, h))
		return nil

	case surfaceFrame:
		cid := registry.ID(msg.ReadUint())
		if err := msg.Err(); err != nil {
			return err
		}
		return obj.frame(cid)

	case surfaceSetOpaqueRegion, surfaceSetInputRegion:
		rid := registry.ID(msg.ReadObject())
		if err := msg.Err(); err != nil {
			return err
		}
		return obj.setRegion(msg.Op(), rid)

	case surfaceCommit:
		return wlerr.Surface(id, s.Commit())

	case surfaceSetBufferTransform:
		t := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		if t < 0 {
			return wlerr.Protocol(id, wlerr.SurfaceInvalidTransform, "buffer transform %v", t)
		}
		return wlerr.Surface(id, s.SetTransform(geom.Transform(t)))

	case surfaceSetBufferScale:
		scale := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		return wlerr.Surface(id, s.SetScale(int(scale)))

	case surfaceOffset:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		s.SetOffset(image.Pt(int(x), int(y)))
		return nil
	}

	return nil
}

func (obj *surfaceObject) attach(bid registry.ID, offset image.Point) error {
	id := obj.s.ID()
	if (obj.c.Version(id) >= 5) && (offset != image.Point{}) {
		return wlerr.Protocol(id, wlerr.SurfaceInvalidOffset, "attach with offset %v", offset)
	}

	if bid == 0 {
		obj.s.Attach(nil, offset)
		return nil
	}

	b, ok := registry.Get[*bufferObject](obj.c.objects, bid)
	if !ok {
		return wlerr.Protocol(id, wlerr.DisplayInvalidObject, "invalid buffer %v", bid)
	}
	obj.s.Attach(b.buf, offset)
	return nil
}

func (obj *surfaceObject) frame(cid registry.ID) error {
	c := obj.c
	if err := c.insert(obj.s.ID(), cid, registry.KindCallback, 1, callback{}); err != nil {
		return err
	}

	obj.s.Frame(surface.FrameCallback{
		ID:      cid,
		Done:    func(msec uint32) { c.fireCallback(cid, msec) },
		Discard: func() { c.discardCallback(cid) },
	})
	return nil
}

func (obj *surfaceObject) setRegion(op uint16, rid registry.ID) error {
	var r region.Region
	switch {
	case rid != 0:
		ro, ok := registry.Get[*regionObject](obj.c.objects, rid)
		if !ok {
			return wlerr.Protocol(obj.s.ID(), wlerr.DisplayInvalidObject, "invalid region %v", rid)
		}
		r = ro.r.Clone()
	case op == surfaceSetInputRegion:
		r = region.Full()
	}

	if op == surfaceSetOpaqueRegion {
		obj.s.SetOpaque(r)
		return nil
	}
	obj.s.SetInput(r)
	return nil
}

type subcompositor struct {
	c  *Client
	id registry.ID
}

func bindSubcompositor(c *Client, id registry.ID, version uint32) error {
	return c.insert(displayID, id, registry.KindSubcompositor, version, &subcompositor{c: c, id: id})
}

func (sc *subcompositor) Interface() string { return "wl_subcompositor" }

func (sc *subcompositor) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case subcompositorDestroy:
		return sc.c.objects.Destroy(sc.id)

	case subcompositorGetSubsurface:
		id := registry.ID(msg.ReadUint())
		sid := registry.ID(msg.ReadObject())
		pid := registry.ID(msg.ReadObject())
		if err := msg.Err(); err != nil {
			return err
		}
		return sc.getSubsurface(id, sid, pid)
	}

	return nil
}

func (sc *subcompositor) getSubsurface(id, sid, pid registry.ID) error {
	if _, ok := sc.c.surfaces.Get(sid); !ok {
		return wlerr.Protocol(sc.id, wlerr.DisplayInvalidObject, "invalid surface %v", sid)
	}
	if sid == pid {
		return wlerr.Protocol(sc.id, wlerr.SubcompositorBadParent, "surface %v can not be its own parent", sid)
	}

	s, err := sc.c.surfaces.Subsurface(sid, pid)
	if err != nil {
		return wlerr.Subsurface(sc.id, err)
	}
	return sc.c.insert(sc.id, id, registry.KindSubsurface, 1, &subsurfaceObject{c: sc.c, id: id, s: s})
}

type subsurfaceObject struct {
	c  *Client
	id registry.ID
	s  *surface.Surface
}

func (obj *subsurfaceObject) Interface() string { return "wl_subsurface" }

func (obj *subsurfaceObject) Dispatch(msg *wire.MessageBuffer) error {
	s := obj.s

	switch msg.Op() {
	case subsurfaceDestroy:
		if !s.Destroyed() {
			s.DestroySubsurface()
		}
		return obj.c.objects.Destroy(obj.id)

	case subsurfaceSetPosition:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		if !s.Destroyed() {
			s.SetPosition(image.Pt(int(x), int(y)))
		}
		return nil

	case subsurfacePlaceAbove, subsurfacePlaceBelow:
		sibling := registry.ID(msg.ReadObject())
		if err := msg.Err(); err != nil {
			return err
		}
		if s.Destroyed() {
			return nil
		}

		place := s.PlaceAbove
		if msg.Op() == subsurfacePlaceBelow {
			place = s.PlaceBelow
		}
		return wlerr.Subsurface(obj.id, place(sibling))

	case subsurfaceSetSync:
		if !s.Destroyed() {
			s.SetSync()
		}
		return nil

	case subsurfaceSetDesync:
		if !s.Destroyed() {
			s.SetDesync()
		}
		return nil
	}

	return nil
}
