// Package bin reads and writes the 32-bit words that Wayland messages
// are made of. Words are in host byte order.
package bin

import (
	"encoding/binary"
	"io"
)

// HeaderSize is the size of a message header: the sender's object ID
// followed by a word holding the message size and opcode.
const HeaderSize = 8

// Word is a type that is sent on the wire as a single 32-bit word.
type Word interface {
	~int32 | ~uint32
}

func Bytes[T Word](v T) (data [4]byte) {
	binary.NativeEndian.PutUint32(data[:], uint32(v))
	return data
}

func Value[T Word](data [4]byte) T {
	return T(binary.NativeEndian.Uint32(data[:]))
}

func Read[T Word](r io.Reader) (T, error) {
	var data [4]byte
	if _, err := io.ReadFull(r, data[:]); err != nil {
		return 0, err
	}
	return Value[T](data), nil
}

func Write[T Word](w io.Writer, v T) error {
	data := Bytes(v)
	n, err := w.Write(data[:])
	if (err == nil) && (n < len(data)) {
		return io.ErrShortWrite
	}
	return err
}

// Header encodes a message header. size includes the header itself.
func Header(sender uint32, op, size uint16) (header [HeaderSize]byte) {
	binary.NativeEndian.PutUint32(header[:4], sender)
	binary.NativeEndian.PutUint32(header[4:], uint32(size)<<16|uint32(op))
	return header
}

// ParseHeader decodes a header encoded by Header.
func ParseHeader(header [HeaderSize]byte) (sender uint32, op, size uint16) {
	sender = binary.NativeEndian.Uint32(header[:4])
	so := binary.NativeEndian.Uint32(header[4:])
	return sender, uint16(so), uint16(so >> 16)
}

// Padding returns the number of zero bytes that follow length bytes
// of string or array data to keep the next argument word-aligned.
func Padding(length uint32) uint32 {
	return (4 - (length & 3)) & 3
}
