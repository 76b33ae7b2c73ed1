package server

import (
	"fmt"
	"slices"

	"deedles.dev/wlkit/output"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/wire"
)

const outputRelease = 0

const (
	outputGeometry    = 0
	outputMode        = 1
	outputDone        = 2
	outputScale       = 3
	outputName        = 4
	outputDescription = 5
)

const (
	outputModeCurrent   = 0x1
	outputModePreferred = 0x2
)

// OutputGlobal is the wl_output global of an output.
type OutputGlobal struct {
	server  *Server
	output  *output.Output
	global  *Global
	bound   []*outputObject
	removed bool
}

// AddOutput advertises o to clients. Bound clients are sent o's new
// state whenever it changes.
func (server *Server) AddOutput(o *output.Output) *OutputGlobal {
	og := OutputGlobal{server: server, output: o}
	og.global = server.AddGlobal("wl_output", coreVersion("wl_output"), og.bind)
	o.OnChange(func(*output.Output) {
		if og.removed {
			return
		}
		for _, obj := range og.bound {
			obj.sendState()
		}
	})
	return &og
}

// RemoveOutput withdraws an output's global.
func (server *Server) RemoveOutput(og *OutputGlobal) {
	og.removed = true
	server.RemoveGlobal(og.global)
}

func (og *OutputGlobal) Output() *output.Output {
	return og.output
}

func (og *OutputGlobal) Global() *Global {
	return og.global
}

// Resources returns the IDs that client c has bound the output to.
func (og *OutputGlobal) Resources(c *Client) []registry.ID {
	var ids []registry.ID
	for _, obj := range og.bound {
		if obj.c == c {
			ids = append(ids, obj.id)
		}
	}
	return ids
}

func (og *OutputGlobal) bind(c *Client, id registry.ID, version uint32) error {
	obj := outputObject{c: c, id: id, version: version, output: og.output}
	if err := c.insert(displayID, id, registry.KindOutput, version, &obj); err != nil {
		return err
	}

	og.bound = append(og.bound, &obj)
	c.objects.OnFree(id, func() {
		og.bound = slices.DeleteFunc(og.bound, func(b *outputObject) bool { return b == &obj })
	})

	obj.sendState()
	return nil
}

type outputObject struct {
	c       *Client
	id      registry.ID
	version uint32
	output  *output.Output
}

func (obj *outputObject) Interface() string { return "wl_output" }

func (obj *outputObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case outputRelease:
		return obj.c.objects.Destroy(obj.id)
	}

	return nil
}

func (obj *outputObject) event(op uint16) *wire.MessageBuilder {
	return wire.NewMessage(uint32(obj.id), op)
}

// sendState sends the output's geometry, mode and scale, followed by
// done, as clients expect after binding and after every change.
func (obj *outputObject) sendState() {
	o := obj.output
	info := o.Info()
	loc := o.Location()

	msg := obj.event(outputGeometry)
	msg.WriteInt(int32(loc.X))
	msg.WriteInt(int32(loc.Y))
	msg.WriteInt(int32(info.PhysicalSize.X))
	msg.WriteInt(int32(info.PhysicalSize.Y))
	msg.WriteInt(0)
	msg.WriteString(info.Make)
	msg.WriteString(info.Model)
	msg.WriteInt(int32(o.Transform()))
	obj.c.send("wl_output", msg)

	mode := o.Mode()
	flags := uint32(outputModeCurrent)
	if mode.Preferred {
		flags |= outputModePreferred
	}
	msg = obj.event(outputMode)
	msg.WriteUint(flags)
	msg.WriteInt(int32(mode.Size.X))
	msg.WriteInt(int32(mode.Size.Y))
	msg.WriteInt(int32(mode.Refresh))
	obj.c.send("wl_output", msg)

	if obj.version >= 2 {
		msg = obj.event(outputScale)
		msg.WriteInt(int32(o.Scale()))
		obj.c.send("wl_output", msg)
	}

	if obj.version >= 4 {
		msg = obj.event(outputName)
		msg.WriteString(o.Name())
		obj.c.send("wl_output", msg)

		msg = obj.event(outputDescription)
		msg.WriteString(fmt.Sprintf("%v %v (%v)", info.Make, info.Model, o.Name()))
		obj.c.send("wl_output", msg)
	}

	if obj.version >= 2 {
		obj.c.send("wl_output", obj.event(outputDone))
	}
}
