package protocol

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"
)

//go:embed wayland.xml
var coreXML []byte

var core = sync.OnceValues(func() (*Protocol, error) {
	return Load(bytes.NewReader(coreXML))
})

// Core returns the parsed core Wayland protocol, limited to the
// interfaces that wlkit serves. It panics if the embedded
// protocol description is malformed.
func Core() *Protocol {
	p, err := core()
	if err != nil {
		panic(fmt.Errorf("embedded core protocol: %w", err))
	}
	return p
}

// MustInterface returns the named interface of the core protocol. It
// panics if there is no such interface.
func MustInterface(name string) *Interface {
	i, ok := Core().Interface(name)
	if !ok {
		panic(fmt.Errorf("core protocol has no interface %q", name))
	}
	return i
}

// RequestName returns the name of a request for protocol tracing.
func RequestName(iface string, op uint16) string {
	if i, ok := Core().Interface(iface); ok {
		if r, ok := i.Request(op); ok {
			return r.Name
		}
	}
	return fmt.Sprintf("request%v", op)
}

// EventName returns the name of an event for protocol tracing.
func EventName(iface string, op uint16) string {
	if i, ok := Core().Interface(iface); ok {
		if e, ok := i.Event(op); ok {
			return e.Name
		}
	}
	return fmt.Sprintf("event%v", op)
}
