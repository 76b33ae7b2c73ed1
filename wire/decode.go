package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"deedles.dev/wlkit/internal/bin"
)

var (
	// ErrMessageSize is returned when a message header announces a
	// size that can not hold the header or that is not a multiple of
	// four.
	ErrMessageSize = errors.New("invalid message size")

	// ErrMissingFD is returned when a message has an fd argument but no
	// file descriptor has been received for it.
	ErrMissingFD = errors.New("no file descriptor for argument")

	ErrUnterminatedString = errors.New("string is not null-terminated")
)

// MessageBuffer holds message data that has been read from the socket
// but not yet decoded. Arguments are read in order with the Read
// methods. The first failure sticks and is reported by Err.
type MessageBuffer struct {
	conn   *Conn
	sender uint32
	op     uint16
	size   uint16
	data   bytes.Reader
	err    error
	args   []any
}

// ReadMessage reads one message from c.
func ReadMessage(c *Conn) (*MessageBuffer, error) {
	var header [bin.HeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, fmt.Errorf("read message header: %w", err)
	}

	mb := MessageBuffer{conn: c}
	mb.sender, mb.op, mb.size = bin.ParseHeader(header)
	if (mb.size < bin.HeaderSize) || (mb.size%4 != 0) {
		return nil, fmt.Errorf("%w: %v", ErrMessageSize, mb.size)
	}

	data := make([]byte, mb.size-bin.HeaderSize)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	mb.data.Reset(data)

	return &mb, nil
}

// Sender is the object ID of the sender of the message.
func (r *MessageBuffer) Sender() uint32 {
	return r.sender
}

// Op is the opcode of the message.
func (r *MessageBuffer) Op() uint16 {
	return r.op
}

// Size is the total size of the message, including the 8 byte header.
func (r *MessageBuffer) Size() uint16 {
	return r.size
}

// Err returns the first error encountered while reading arguments.
// Running out of data is reported as io.ErrUnexpectedEOF.
func (r *MessageBuffer) Err() error {
	if errors.Is(r.err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return r.err
}

func (r *MessageBuffer) ReadInt() (v int32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[int32](&r.data)
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadUint() (v uint32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[uint32](&r.data)
	r.args = append(r.args, v)
	return v
}

// ReadObject reads an object ID. Zero is the null object.
func (r *MessageBuffer) ReadObject() uint32 {
	return r.ReadUint()
}

func (r *MessageBuffer) ReadNewID() NewID {
	return NewID{
		Interface: r.ReadString(),
		Version:   r.ReadUint(),
		ID:        r.ReadUint(),
	}
}

func (r *MessageBuffer) ReadFixed() (v Fixed) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[Fixed](&r.data)
	r.args = append(r.args, v)
	return v
}

// ReadString reads a string argument. A null string is returned as
// the empty string.
func (r *MessageBuffer) ReadString() string {
	if r.err != nil {
		return ""
	}

	length, err := bin.Read[uint32](&r.data)
	if err != nil {
		r.err = err
		return ""
	}
	if length == 0 {
		r.args = append(r.args, "")
		return ""
	}
	if int64(length) > int64(r.data.Len()) {
		r.err = io.ErrUnexpectedEOF
		return ""
	}

	buf := make([]byte, length+bin.Padding(length))
	if _, r.err = io.ReadFull(&r.data, buf); r.err != nil {
		return ""
	}
	if buf[length-1] != 0 {
		r.err = ErrUnterminatedString
		return ""
	}

	v := string(buf[:length-1])
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadArray() []byte {
	if r.err != nil {
		return nil
	}

	length, err := bin.Read[uint32](&r.data)
	if err != nil {
		r.err = err
		return nil
	}
	if int64(length) > int64(r.data.Len()) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}

	buf := make([]byte, length+bin.Padding(length))
	if _, r.err = io.ReadFull(&r.data, buf); r.err != nil {
		return nil
	}

	r.args = append(r.args, buf[:length])
	return buf[:length]
}

// ReadFile claims the next file descriptor received on the connection.
// The caller owns the returned file.
func (r *MessageBuffer) ReadFile() *os.File {
	if r.err != nil {
		return nil
	}

	fd, ok := r.conn.popFD()
	if !ok {
		r.err = ErrMissingFD
		return nil
	}

	f := os.NewFile(uintptr(fd), "")
	r.args = append(r.args, f)
	return f
}

// Debug formats the message as a call for protocol tracing.
func (r *MessageBuffer) Debug(sender string, method string) string {
	return fmt.Sprintf("%v#%v.%v(%v)", sender, r.sender, method, formatArgs(r.args))
}

func formatArgs(args []any) string {
	strs := make([]string, 0, len(args))
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			strs = append(strs, strconv.Quote(arg))
		case *os.File:
			strs = append(strs, fmt.Sprintf("fd %v", arg.Fd()))
		case []byte:
			strs = append(strs, fmt.Sprintf("array[%v]", len(arg)))
		default:
			strs = append(strs, fmt.Sprint(arg))
		}
	}
	return strings.Join(strs, ", ")
}
