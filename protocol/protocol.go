// Package protocol defines the types necessary for unmarshalling a
// protocol description XML file, and embeds the core Wayland
// protocol that the server implements.
package protocol

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

type Protocol struct {
	Name      string `xml:"name,attr"`
	Copyright string `xml:"copyright"`

	Interfaces []Interface `xml:"interface"`
}

// Load decodes a protocol description.
func Load(r io.Reader) (*Protocol, error) {
	var p Protocol
	if err := xml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode protocol: %w", err)
	}
	return &p, nil
}

// Interface returns the interface with the given name.
func (p *Protocol) Interface(name string) (*Interface, bool) {
	for i := range p.Interfaces {
		if p.Interfaces[i].Name == name {
			return &p.Interfaces[i], true
		}
	}
	return nil, false
}

type Interface struct {
	Name        string      `xml:"name,attr"`
	Version     int         `xml:"version,attr"`
	Description Description `xml:"description"`

	Requests []Op   `xml:"request"`
	Events   []Op   `xml:"event"`
	Enums    []Enum `xml:"enum"`
}

// Request returns the request with opcode op.
func (i *Interface) Request(op uint16) (*Op, bool) {
	if int(op) >= len(i.Requests) {
		return nil, false
	}
	return &i.Requests[op], true
}

// Event returns the event with opcode op.
func (i *Interface) Event(op uint16) (*Op, bool) {
	if int(op) >= len(i.Events) {
		return nil, false
	}
	return &i.Events[op], true
}

// Enum returns the enum with the given name.
func (i *Interface) Enum(name string) (*Enum, bool) {
	for e := range i.Enums {
		if i.Enums[e].Name == name {
			return &i.Enums[e], true
		}
	}
	return nil, false
}

type Description struct {
	Summary string `xml:"summary,attr"`
	Full    string `xml:",chardata"`
}

type Op struct {
	Name        string      `xml:"name,attr"`
	Type        string      `xml:"type,attr"`
	Since       int         `xml:"since,attr"`
	Description Description `xml:"description"`

	Args []Arg `xml:"arg"`
}

// Destructor reports whether the op destroys the object it is sent
// to or from.
func (op *Op) Destructor() bool {
	return op.Type == "destructor"
}

// MinVersion returns the first version of the interface that has op.
func (op *Op) MinVersion() int {
	return max(op.Since, 1)
}

type Arg struct {
	Name    string `xml:"name,attr"`
	Summary string `xml:"summary,attr"`

	Type      string `xml:"type,attr"`
	Interface string `xml:"interface,attr"`
	AllowNull bool   `xml:"allow-null,attr"`
	Enum      string `xml:"enum,attr"`
	Version   int    `xml:"version,attr"`
}

type Enum struct {
	Name        string      `xml:"name,attr"`
	Bitfield    bool        `xml:"bitfield,attr"`
	Description Description `xml:"description"`

	Entries []Entry `xml:"entry"`
}

// Value returns the value of the named entry.
func (e *Enum) Value(name string) (int, bool) {
	for _, entry := range e.Entries {
		if entry.Name == name {
			v, err := entry.Int()
			return v, err == nil
		}
	}
	return 0, false
}

type Entry struct {
	Name    string `xml:"name,attr"`
	Summary string `xml:"summary,attr"`
	Value   string `xml:"value,attr"`
}

func (e Entry) Int() (int, error) {
	v, err := strconv.ParseInt(e.Value, 0, 0)
	return int(v), err
}
