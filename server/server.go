// Package server speaks the core Wayland protocol to clients over a
// Unix socket, turning their requests into operations on surfaces,
// buffers and the other objects of the compositor core.
//
// All protocol objects are owned by the event loop given to New.
// Sockets are read on their own goroutines, which hand every message
// to the loop for dispatch.
package server

import (
	"errors"
	"net"
	"slices"
	"sync"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/internal/logger"
	"deedles.dev/wlkit/internal/set"
	"deedles.dev/wlkit/loop"
	"deedles.dev/wlkit/protocol"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/surface"
	"deedles.dev/wlkit/wire"
	"github.com/charmbracelet/log"
)

// BindFunc creates the object id for a client that has bound a global
// with the given version.
type BindFunc func(c *Client, id registry.ID, version uint32) error

// Global is an object advertised to every client through wl_registry.
type Global struct {
	name    uint32
	iface   string
	version uint32
	bind    BindFunc
}

func (g *Global) Name() uint32      { return g.name }
func (g *Global) Interface() string { return g.iface }
func (g *Global) Version() uint32   { return g.version }

type Server struct {
	log      *log.Logger
	loop     *loop.Loop
	importer *buffer.Importer

	done  chan struct{}
	close sync.Once
	lis   *net.UnixListener

	clients    set.Set[*Client]
	nextClient uint64
	globals    []*Global
	nextName   uint32
	serial     uint32

	onConnect    []func(*Client)
	onCommit     []func(*Client, *surface.Surface)
	onDisconnect []func(*Client)
}

// New returns a server that dispatches on lp and imports client
// buffers with importer. The core wl_compositor, wl_subcompositor and
// wl_shm globals are created immediately.
func New(lp *loop.Loop, importer *buffer.Importer, l *log.Logger) *Server {
	server := Server{
		log:      logger.Or(l).WithPrefix("server"),
		loop:     lp,
		importer: importer,
		done:     make(chan struct{}),
		clients:  make(set.Set[*Client]),
	}

	server.AddGlobal("wl_compositor", coreVersion("wl_compositor"), bindCompositor)
	server.AddGlobal("wl_subcompositor", coreVersion("wl_subcompositor"), bindSubcompositor)
	server.AddGlobal("wl_shm", coreVersion("wl_shm"), bindShm)

	return &server
}

func coreVersion(iface string) uint32 {
	return uint32(protocol.MustInterface(iface).Version)
}

// Listen opens a socket at path, or at a free name in
// $XDG_RUNTIME_DIR if path is empty, and starts accepting clients on
// it. It returns the path of the socket.
func (server *Server) Listen(path string) (string, error) {
	lis, err := wire.Listen(path)
	if err != nil {
		return "", err
	}
	server.Serve(lis)
	return lis.Addr().String(), nil
}

// Serve starts accepting clients from lis. The server takes ownership
// of lis.
func (server *Server) Serve(lis *net.UnixListener) {
	server.lis = lis
	go server.listen(lis)
}

func (server *Server) listen(lis *net.UnixListener) {
	server.log.Info("listening", "socket", lis.Addr())

	for {
		c, err := lis.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			server.log.Error("accept failed", "err", err)
			select {
			case <-server.done:
				return
			default:
				continue
			}
		}

		server.loop.Post(func() error {
			server.addClient(c)
			return nil
		})
	}
}

func (server *Server) addClient(c *net.UnixConn) {
	select {
	case <-server.done:
		c.Close()
		return
	default:
	}

	client := newClient(server, wire.NewConn(c))
	server.clients.Add(client)
	for _, f := range server.onConnect {
		f(client)
	}
	go client.listen()
}

// Close stops accepting clients and disconnects the connected ones. It
// must be called on the loop.
func (server *Server) Close() error {
	var err error
	server.close.Do(func() {
		close(server.done)
		if server.lis != nil {
			err = server.lis.Close()
		}
		for client := range server.clients {
			client.Close()
		}
	})
	return err
}

// Clients returns the connected clients.
func (server *Server) Clients() []*Client {
	return server.clients.Slice()
}

// OnConnect registers f to be called for every new client.
func (server *Server) OnConnect(f func(*Client)) {
	server.onConnect = append(server.onConnect, f)
}

// OnCommit registers f to be called whenever state is applied to a
// surface of any client.
func (server *Server) OnCommit(f func(*Client, *surface.Surface)) {
	server.onCommit = append(server.onCommit, f)
}

// OnDisconnect registers f to be called after a client's objects have
// been torn down.
func (server *Server) OnDisconnect(f func(*Client)) {
	server.onDisconnect = append(server.onDisconnect, f)
}

// Importer returns the importer used for client buffers.
func (server *Server) Importer() *buffer.Importer {
	return server.importer
}

// NextSerial returns a new event serial.
func (server *Server) NextSerial() uint32 {
	server.serial++
	return server.serial
}

// AddGlobal advertises a new global to every client.
func (server *Server) AddGlobal(iface string, version uint32, bind BindFunc) *Global {
	server.nextName++
	g := Global{
		name:    server.nextName,
		iface:   iface,
		version: version,
		bind:    bind,
	}
	server.globals = append(server.globals, &g)

	for client := range server.clients {
		client.announce(&g)
	}
	return &g
}

// RemoveGlobal withdraws a global. Objects already bound to it stay
// alive.
func (server *Server) RemoveGlobal(g *Global) {
	i := slices.Index(server.globals, g)
	if i < 0 {
		return
	}
	server.globals = slices.Delete(server.globals, i, i+1)

	for client := range server.clients {
		client.withdraw(g)
	}
}

// Globals returns the advertised globals in the order they were added.
func (server *Server) Globals() []*Global {
	return slices.Clone(server.globals)
}

func (server *Server) global(name uint32) (*Global, bool) {
	i := slices.IndexFunc(server.globals, func(g *Global) bool { return g.name == name })
	if i < 0 {
		return nil, false
	}
	return server.globals[i], true
}

func (server *Server) removeClient(c *Client) {
	server.clients.Delete(c)
	for _, f := range server.onDisconnect {
		f(c)
	}
}
