package server

import (
	"errors"
	"io"
	"net"
	"sync"

	"deedles.dev/wlkit/internal/debug"
	"deedles.dev/wlkit/protocol"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/surface"
	"deedles.dev/wlkit/wire"
	"deedles.dev/wlkit/wlerr"
	"github.com/charmbracelet/log"
)

// displayID is the ID of the wl_display object, which exists from the
// moment a client connects.
const displayID registry.ID = 1

// Client is a connected client. Apart from Done, its methods must be
// called on the server's loop.
type Client struct {
	server *Server
	id     uint64
	log    *log.Logger
	conn   *wire.Conn

	done   chan struct{}
	close  sync.Once
	closed bool

	objects    *registry.Registry
	surfaces   *surface.Manager
	versions   map[registry.ID]uint32
	registries []registry.ID
}

func newClient(server *Server, conn *wire.Conn) *Client {
	server.nextClient++
	client := Client{
		server:   server,
		id:       server.nextClient,
		conn:     conn,
		done:     make(chan struct{}),
		objects:  registry.NewClient(),
		versions: make(map[registry.ID]uint32),
	}
	client.log = server.log.With("client", client.id)
	client.surfaces = surface.NewManager(client.objects, client.log)
	client.surfaces.OnCommit(func(s *surface.Surface) {
		for _, f := range server.onCommit {
			f(&client, s)
		}
	})

	client.objects.Insert(displayID, registry.KindDisplay, &display{c: &client})
	client.versions[displayID] = 1

	client.log.Debug("connected")
	return &client
}

func (c *Client) listen() {
	for {
		msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			c.server.loop.Post(func() error {
				if !c.closed && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					c.log.Warn("read failed", "err", err)
				}
				c.Close()
				return nil
			})
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		c.server.loop.Post(func() error {
			c.handle(msg)
			return nil
		})
	}
}

// Done is closed when the client has been disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Objects returns the client's object registry.
func (c *Client) Objects() *registry.Registry {
	return c.objects
}

// Surfaces returns the manager of the client's surfaces.
func (c *Client) Surfaces() *surface.Manager {
	return c.surfaces
}

func (c *Client) Server() *Server {
	return c.server
}

// ID returns a number identifying the client in logs.
func (c *Client) ID() uint64 {
	return c.id
}

func (c *Client) handle(msg *wire.MessageBuffer) {
	if c.closed {
		return
	}

	err := c.dispatch(msg)
	if err == nil {
		return
	}

	var perr *wlerr.ProtocolError
	switch {
	case errors.As(err, &perr):
	case wlerr.IsProtocolError(err):
		perr = wlerr.Wrap(registry.ID(msg.Sender()), wlerr.DisplayInvalidObject, err)
	case wlerr.IsResourceExhaustion(err):
		c.log.Warn("request failed", "err", err)
		return
	default:
		perr = wlerr.Wrap(displayID, wlerr.DisplayImplementation, err)
	}
	c.PostError(perr)
}

func (c *Client) dispatch(msg *wire.MessageBuffer) error {
	id := registry.ID(msg.Sender())
	obj, ok := c.object(id)
	if !ok {
		return wlerr.Protocol(id, wlerr.DisplayInvalidObject, "invalid object %v", id)
	}

	iface := obj.Interface()
	req, ok := protocol.MustInterface(iface).Request(msg.Op())
	if !ok {
		return wlerr.Wrap(id, wlerr.DisplayInvalidMethod, wire.UnknownOpError{
			Interface: iface,
			Type:      "request",
			Op:        msg.Op(),
		})
	}
	if version := c.versions[id]; int(version) < req.MinVersion() {
		return wlerr.Protocol(id, wlerr.DisplayInvalidMethod, "%v.%v requires version %v, have %v", iface, req.Name, req.MinVersion(), version)
	}

	err := obj.Dispatch(msg)
	debug.Printf(" <- %v", msg.Debug(iface, req.Name))
	if merr := msg.Err(); merr != nil {
		return wlerr.Wrap(id, wlerr.DisplayInvalidMethod, wire.ArgumentError{
			Interface: iface,
			Op:        msg.Op(),
			Err:       merr,
		})
	}
	return err
}

// object returns the dispatcher for a live object.
func (c *Client) object(id registry.ID) (wire.Object, bool) {
	e, ok := c.objects.Lookup(id)
	if !ok || e.Condemned {
		return nil, false
	}

	switch v := e.Value.(type) {
	case wire.Object:
		return v, true
	case *surface.Surface:
		return &surfaceObject{c: c, s: v}, true
	default:
		return nil, false
	}
}

// insert adds an object created by the client with a new_id argument.
func (c *Client) insert(parent, id registry.ID, kind registry.Kind, version uint32, value any) error {
	if err := c.objects.Insert(id, kind, value); err != nil {
		return wlerr.Wrap(parent, wlerr.DisplayInvalidObject, err)
	}
	c.track(id, version)
	return nil
}

// track records the version of a newly inserted object and arranges
// for the client to be told when its ID is free again.
func (c *Client) track(id registry.ID, version uint32) {
	c.versions[id] = version
	c.objects.OnFree(id, func() {
		delete(c.versions, id)
		if id <= registry.ClientIDMax {
			c.deleteID(id)
		}
	})
}

// Version returns the version of the live object id.
func (c *Client) Version(id registry.ID) uint32 {
	return c.versions[id]
}

func (c *Client) send(iface string, msg *wire.MessageBuilder) {
	if c.closed {
		return
	}

	msg.Method = protocol.EventName(iface, msg.Op())
	debug.Printf(" -> %v %v", iface, msg)
	if err := msg.Build(c.conn); err != nil {
		c.log.Warn("send failed", "err", err)
		c.Close()
	}
}

func (c *Client) deleteID(id registry.ID) {
	msg := wire.NewMessage(uint32(displayID), displayDeleteID)
	msg.WriteUint(uint32(id))
	c.send("wl_display", msg)
}

// PostError sends a fatal protocol error to the client and disconnects
// it.
func (c *Client) PostError(err *wlerr.ProtocolError) {
	if c.closed {
		return
	}

	c.log.Error("protocol error", "object", err.Object, "code", err.Code, "err", err.Message)

	msg := wire.NewMessage(uint32(displayID), displayError)
	msg.WriteObject(uint32(err.Object))
	msg.WriteUint(err.Code)
	msg.WriteString(err.Message)
	c.send("wl_display", msg)

	c.Close()
}

// Close disconnects the client and destroys all of its objects.
// Objects still in use, such as surfaces shown by a frame in flight,
// are freed once they are no longer in use.
func (c *Client) Close() {
	c.close.Do(func() {
		c.closed = true
		close(c.done)
		c.conn.Close()

		var live []destroyer
		c.objects.Each(func(e registry.Entry) bool {
			if e.Condemned {
				return true
			}
			switch v := e.Value.(type) {
			case *surface.Surface:
				live = append(live, surfaceDestroyer{v})
			case destroyer:
				live = append(live, v)
			}
			return true
		})
		for _, d := range live {
			d.destroy()
		}
		c.objects.Teardown()

		c.log.Debug("disconnected", "remaining", c.objects.Len())
		c.server.removeClient(c)
	})
}

// destroyer is an object that holds resources outside of the registry
// that must be released when its client disconnects.
type destroyer interface {
	destroy()
}

type surfaceDestroyer struct {
	s *surface.Surface
}

func (d surfaceDestroyer) destroy() {
	if !d.s.Destroyed() {
		d.s.Destroy()
	}
}

func (c *Client) announce(g *Global) {
	for _, id := range c.registries {
		sendGlobal(c, id, g)
	}
}

func (c *Client) withdraw(g *Global) {
	for _, id := range c.registries {
		msg := wire.NewMessage(uint32(id), registryGlobalRemove)
		msg.WriteUint(g.name)
		c.send("wl_registry", msg)
	}
}
