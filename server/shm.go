package server

import (
	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/shm"
	"deedles.dev/wlkit/wire"
	"deedles.dev/wlkit/wlerr"
)

const (
	shmCreatePool = 0
	shmRelease    = 1

	shmFormat = 0
)

const (
	shmPoolCreateBuffer = 0
	shmPoolDestroy      = 1
	shmPoolResize       = 2
)

const (
	bufferDestroy = 0

	bufferRelease = 0
)

type shmObject struct {
	c  *Client
	id registry.ID
}

func bindShm(c *Client, id registry.ID, version uint32) error {
	if err := c.insert(displayID, id, registry.KindShm, version, &shmObject{c: c, id: id}); err != nil {
		return err
	}

	for _, f := range c.server.importer.Formats().Formats() {
		msg := wire.NewMessage(uint32(id), shmFormat)
		msg.WriteUint(f.ShmCode())
		c.send("wl_shm", msg)
	}
	return nil
}

func (obj *shmObject) Interface() string { return "wl_shm" }

func (obj *shmObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case shmCreatePool:
		id := registry.ID(msg.ReadUint())
		file := msg.ReadFile()
		size := msg.ReadInt()
		if err := msg.Err(); err != nil {
			if file != nil {
				file.Close()
			}
			return err
		}

		if size <= 0 {
			file.Close()
			return wlerr.Protocol(obj.id, wlerr.ShmInvalidStride, "invalid pool size %v", size)
		}
		pool, err := shm.NewPool(file, int(size))
		if err != nil {
			return wlerr.Wrap(obj.id, wlerr.ShmInvalidFD, err)
		}

		po := poolObject{c: obj.c, id: id, pool: pool}
		if err := obj.c.insert(obj.id, id, registry.KindShmPool, 1, &po); err != nil {
			pool.Destroy()
			return err
		}
		return nil

	case shmRelease:
		return obj.c.objects.Destroy(obj.id)
	}

	return nil
}

type poolObject struct {
	c    *Client
	id   registry.ID
	pool *shm.Pool
}

func (obj *poolObject) Interface() string { return "wl_shm_pool" }

func (obj *poolObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case shmPoolCreateBuffer:
		id := registry.ID(msg.ReadUint())
		offset := msg.ReadInt()
		width, height := msg.ReadInt(), msg.ReadInt()
		stride := msg.ReadInt()
		format := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		return obj.createBuffer(id, buffer.ShmDescriptor{
			Pool:   obj.pool,
			Offset: int(offset),
			Width:  int(width),
			Height: int(height),
			Stride: int(stride),
			Format: buffer.FromShm(format),
		})

	case shmPoolDestroy:
		obj.pool.Destroy()
		return obj.c.objects.Destroy(obj.id)

	case shmPoolResize:
		size := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		return wlerr.Shm(obj.id, obj.pool.Resize(int(size)))
	}

	return nil
}

func (obj *poolObject) createBuffer(id registry.ID, desc buffer.ShmDescriptor) error {
	c := obj.c

	buf, err := c.server.importer.Import(id, desc)
	if err != nil {
		return wlerr.Shm(obj.id, err)
	}

	if err := c.insert(obj.id, id, registry.KindBuffer, 1, &bufferObject{c: c, id: id, buf: buf}); err != nil {
		buf.Destroy()
		return err
	}
	buf.OnRelease(func() {
		msg := wire.NewMessage(uint32(id), bufferRelease)
		c.send("wl_buffer", msg)
	})
	return nil
}

func (obj *poolObject) destroy() {
	obj.pool.Destroy()
}

// bufferObject is a wl_buffer. Destroying it frees its ID right away,
// but the buffer's memory stays mapped for as long as a surface or a
// frame in flight still holds it.
type bufferObject struct {
	c   *Client
	id  registry.ID
	buf *buffer.Buffer
}

func (obj *bufferObject) Interface() string { return "wl_buffer" }

func (obj *bufferObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case bufferDestroy:
		obj.buf.Destroy()
		return obj.c.objects.Destroy(obj.id)
	}

	return nil
}

func (obj *bufferObject) destroy() {
	obj.buf.Destroy()
}
