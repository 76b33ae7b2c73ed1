// Package wire implements the Wayland wire format: message framing,
// argument encoding and file descriptor passing over a Unix socket.
package wire

// MaxMessageSize is the largest message, header included, that the
// wire format can describe and that peers are expected to send.
const MaxMessageSize = 4096

// maxFDs is the largest number of file descriptors accepted with a
// single read from the socket.
const maxFDs = 28

// Object is a protocol object that requests can be dispatched to.
type Object interface {
	// Interface returns the name of the object's protocol interface,
	// such as "wl_surface".
	Interface() string

	// Dispatch performs the request in msg.
	Dispatch(msg *MessageBuffer) error
}

// NewID is an untyped new_id argument, as used by wl_registry.bind.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}
