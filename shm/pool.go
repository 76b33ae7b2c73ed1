package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Pool is the server side of a wl_shm_pool: a client-provided file
// mapped read-only into the compositor.
//
// A pool stays mapped for as long as either the client's pool object
// or any buffer created from it is alive. Buffers keep a reference
// with Ref and drop it with Unref.
type Pool struct {
	file      *os.File
	mmap      Mmap
	stale     []Mmap
	refs      int
	destroyed bool
}

// NewPool maps size bytes of file. The pool takes ownership of file.
func NewPool(file *os.File, size int) (*Pool, error) {
	if size <= 0 {
		file.Close()
		return nil, fmt.Errorf("invalid pool size %v", size)
	}

	mmap, err := Map(file, size, unix.PROT_READ)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &Pool{
		file: file,
		mmap: mmap,
	}, nil
}

// Size returns the current size of the mapping.
func (p *Pool) Size() int {
	return len(p.mmap)
}

// Resize remaps the pool with a larger size. Slices already handed out
// by Bytes stay valid until the pool is released, as a render pass on
// another goroutine may still be reading them.
func (p *Pool) Resize(size int) error {
	if size < len(p.mmap) {
		return ErrShrink
	}
	if size == len(p.mmap) {
		return nil
	}

	mmap, err := Map(p.file, size, unix.PROT_READ)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}

	p.stale = append(p.stale, p.mmap)
	p.mmap = mmap
	return nil
}

// Bytes returns length bytes of the pool starting at offset.
func (p *Pool) Bytes(offset, length int) ([]byte, error) {
	if (offset < 0) || (length < 0) || (offset+length > len(p.mmap)) {
		return nil, ErrOutOfBounds
	}
	return p.mmap[offset : offset+length : offset+length], nil
}

func (p *Pool) Ref() {
	p.refs++
}

func (p *Pool) Unref() {
	p.refs--
	p.release()
}

// Destroy marks the client's pool object as gone. The mapping is
// released once every buffer created from the pool has been released
// too.
func (p *Pool) Destroy() {
	p.destroyed = true
	p.release()
}

func (p *Pool) release() {
	if !p.destroyed || (p.refs > 0) || (p.file == nil) {
		return
	}

	for _, m := range p.stale {
		m.Unmap()
	}
	p.mmap.Unmap()
	p.file.Close()
	p.mmap = nil
	p.stale = nil
	p.file = nil
}
