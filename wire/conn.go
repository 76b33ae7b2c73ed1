package wire

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"deedles.dev/wlkit/internal/set"
	"golang.org/x/sys/unix"
)

func xdgRuntimeDir() string {
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if ok {
		return dir
	}
	return fmt.Sprintf("/var/run/user/%v", os.Getuid())
}

// SocketPath determines the path to the Wayland Unix domain socket
// based on the contents of the $WAYLAND_DISPLAY environment variable.
// It does not attempt to determine if the value corresponds to an
// actual socket.
func SocketPath() string {
	v, ok := os.LookupEnv("WAYLAND_DISPLAY")
	if !ok {
		v = "wayland-0"
	}
	if filepath.IsAbs(v) {
		return v
	}

	return filepath.Join(xdgRuntimeDir(), v)
}

// NewSocketPath attempts to generate a valid path for opening a new
// socket to listen on.
func NewSocketPath() (string, error) {
	dir := xdgRuntimeDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	names := make(set.Set[int], len(entries))
	for _, ent := range entries {
		after, ok := strings.CutPrefix(ent.Name(), "wayland-")
		if !ok {
			continue
		}
		after = strings.TrimSuffix(after, ".lock")
		n, err := strconv.ParseInt(after, 10, 0)
		if err != nil {
			continue
		}
		names.Add(int(n))
	}

	var num int
	for names.Has(num) {
		num++
	}

	return filepath.Join(dir, fmt.Sprintf("wayland-%v", num)), nil
}

// Listen opens a Unix socket for clients to connect to. If path is
// empty, a free name in $XDG_RUNTIME_DIR is chosen. A stale socket
// file left at path by a previous run is removed first.
func Listen(path string) (*net.UnixListener, error) {
	if path == "" {
		p, err := NewSocketPath()
		if err != nil {
			return nil, fmt.Errorf("choose socket path: %w", err)
		}
		path = p
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(xdgRuntimeDir(), path)
	}

	if c, err := net.Dial("unix", path); err == nil {
		c.Close()
		return nil, fmt.Errorf("socket %v is in use", path)
	}
	os.Remove(path)

	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	lis.SetUnlinkOnClose(true)
	return lis, nil
}

// Conn is one end of a Wayland connection. File descriptors received
// alongside message data are queued in the order that they arrive and
// are consumed by the fd arguments of the messages that follow.
//
// A Conn is not safe for concurrent reads or concurrent writes, but
// messages may be decoded on a different goroutine from the one that
// reads them.
type Conn struct {
	conn *net.UnixConn
	r    *bufio.Reader
	oob  []byte

	m   sync.Mutex
	fds []int
}

// NewConn creates a new Conn that wraps c. After this is called, use
// the provided Close method to close c instead of calling its own
// Close method.
func NewConn(c *net.UnixConn) *Conn {
	conn := Conn{
		conn: c,
		oob:  make([]byte, unix.CmsgSpace(maxFDs*4)),
	}
	conn.r = bufio.NewReaderSize(rawReader{&conn}, MaxMessageSize)
	return &conn
}

// Close closes the underlying connection along with any received file
// descriptors that were never claimed by a message.
func (c *Conn) Close() error {
	c.m.Lock()
	defer c.m.Unlock()

	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	return c.conn.Close()
}

// Raw returns the wrapped connection.
func (c *Conn) Raw() *net.UnixConn {
	return c.conn
}

func (c *Conn) readFDs(data []byte) error {
	cmsgs, err := unix.ParseSocketControlMessage(data)
	if err != nil {
		return fmt.Errorf("parse socket control messages: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				continue
			}
			return fmt.Errorf("parse unix control message: %w", err)
		}
		c.m.Lock()
		c.fds = append(c.fds, fds...)
		c.m.Unlock()
	}
	return nil
}

// popFD removes the oldest received file descriptor from the queue.
func (c *Conn) popFD() (int, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	if len(c.fds) == 0 {
		return -1, false
	}

	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// rawReader reads message data from the socket, moving any file
// descriptors that come with it into the Conn's queue.
type rawReader struct {
	c *Conn
}

func (r rawReader) Read(buf []byte) (int, error) {
	n, oobn, _, _, err := r.c.conn.ReadMsgUnix(buf, r.c.oob)
	if oobn > 0 {
		if ferr := r.c.readFDs(r.c.oob[:oobn]); ferr != nil {
			return n, errors.Join(err, ferr)
		}
	}
	return n, err
}

// Dial opens a connection to the Wayland socket based on the current
// environment. It follows the procedure outlined at
// https://wayland-book.com/protocol-design/wire-protocol.html#transports
func Dial() (*Conn, error) {
	if v, ok := os.LookupEnv("WAYLAND_SOCKET"); ok {
		fd, err := strconv.ParseInt(v, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("parse WAYLAND_SOCKET fd: %w", err)
		}
		file := os.NewFile(uintptr(fd), "WAYLAND_SOCKET")
		defer file.Close()

		c, err := net.FileConn(file)
		if err != nil {
			return nil, fmt.Errorf("open WAYLAND_SOCKET connection: %w", err)
		}
		uc, ok := c.(*net.UnixConn)
		if !ok {
			c.Close()
			return nil, fmt.Errorf("WAYLAND_SOCKET is a %T, not a Unix socket", c)
		}
		return NewConn(uc), nil
	}

	return DialPath(SocketPath())
}

// DialPath opens a connection to the Wayland socket at path.
func DialPath(path string) (*Conn, error) {
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}
