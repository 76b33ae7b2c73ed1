package server

import (
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/wire"
	"deedles.dev/wlkit/wlerr"
)

const (
	displaySync        = 0
	displayGetRegistry = 1

	displayError    = 0
	displayDeleteID = 1
)

const (
	registryBind = 0

	registryGlobal       = 0
	registryGlobalRemove = 1
)

const callbackDone = 0

type display struct {
	c *Client
}

func (d *display) Interface() string { return "wl_display" }

func (d *display) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case displaySync:
		id := registry.ID(msg.ReadUint())
		if err := msg.Err(); err != nil {
			return err
		}
		if err := d.c.insert(displayID, id, registry.KindCallback, 1, callback{}); err != nil {
			return err
		}
		d.c.fireCallback(id, d.c.server.NextSerial())
		return nil

	case displayGetRegistry:
		id := registry.ID(msg.ReadUint())
		if err := msg.Err(); err != nil {
			return err
		}
		return d.getRegistry(id)
	}

	return nil
}

func (d *display) getRegistry(id registry.ID) error {
	c := d.c
	if err := c.insert(displayID, id, registry.KindRegistry, 1, &registryObject{c: c, id: id}); err != nil {
		return err
	}
	c.registries = append(c.registries, id)
	c.objects.OnFree(id, func() {
		c.registries = deleteID(c.registries, id)
	})

	for _, g := range c.server.globals {
		sendGlobal(c, id, g)
	}
	return nil
}

func deleteID(ids []registry.ID, id registry.ID) []registry.ID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func sendGlobal(c *Client, id registry.ID, g *Global) {
	msg := wire.NewMessage(uint32(id), registryGlobal)
	msg.WriteUint(g.name)
	msg.WriteString(g.iface)
	msg.WriteUint(g.version)
	c.send("wl_registry", msg)
}

type registryObject struct {
	c  *Client
	id registry.ID
}

func (r *registryObject) Interface() string { return "wl_registry" }

func (r *registryObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case registryBind:
		name := msg.ReadUint()
		nid := msg.ReadNewID()
		if err := msg.Err(); err != nil {
			return err
		}
		return r.bind(name, nid)
	}

	return nil
}

func (r *registryObject) bind(name uint32, nid wire.NewID) error {
	g, ok := r.c.server.global(name)
	switch {
	case !ok:
		return wlerr.Protocol(r.id, wlerr.DisplayInvalidObject, "invalid global %v", name)
	case g.iface != nid.Interface:
		return wlerr.Protocol(r.id, wlerr.DisplayInvalidObject, "invalid interface for global %v: have %v, wanted %v", name, nid.Interface, g.iface)
	case (nid.Version == 0) || (nid.Version > g.version):
		return wlerr.Protocol(r.id, wlerr.DisplayInvalidObject, "invalid version for global %v (%v): have %v, wanted 1 to %v", name, g.iface, nid.Version, g.version)
	}

	if err := g.bind(r.c, registry.ID(nid.ID), nid.Version); err != nil {
		return err
	}
	r.c.log.Debug("bind", "global", g.iface, "id", nid.ID, "version", nid.Version)
	return nil
}

// callback is a wl_callback. It has no requests and is destroyed by
// its only event.
type callback struct{}

func (callback) Interface() string                      { return "wl_callback" }
func (callback) Dispatch(msg *wire.MessageBuffer) error { return nil }

// fireCallback sends wl_callback.done and destroys the callback.
func (c *Client) fireCallback(id registry.ID, data uint32) {
	if _, ok := registry.Get[callback](c.objects, id); !ok {
		return
	}

	msg := wire.NewMessage(uint32(id), callbackDone)
	msg.WriteUint(data)
	c.send("wl_callback", msg)
	c.objects.Destroy(id)
}

// discardCallback destroys a callback that will never be done. The
// client is told that its ID is free again.
func (c *Client) discardCallback(id registry.ID) {
	if _, ok := registry.Get[callback](c.objects, id); !ok {
		return
	}
	c.objects.Destroy(id)
}
