package buffer

import (
	"context"
	"testing"
	"time"

	"deedles.dev/wlkit/shm"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, size int) *shm.Pool {
	t.Helper()

	file, err := shm.Create("buffer-test", size)
	require.NoError(t, err)
	pool, err := shm.NewPool(file, size)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)
	return pool
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "AR24", ARGB8888.String())
	assert.Equal(t, "XR24", XRGB8888.String())
	assert.Equal(t, "0x00000007", Format(7).String())
}

func TestShmCodes(t *testing.T) {
	assert.Equal(t, ARGB8888, FromShm(0))
	assert.Equal(t, XRGB8888, FromShm(1))
	assert.Equal(t, ABGR8888, FromShm(uint32(ABGR8888)))
	assert.Equal(t, uint32(0), ARGB8888.ShmCode())
	assert.Equal(t, uint32(RGB565), RGB565.ShmCode())
}

func TestTextureFormat(t *testing.T) {
	assert.Equal(t, gputypes.TextureFormatBGRA8Unorm, ARGB8888.TextureFormat())
	assert.Equal(t, gputypes.TextureFormatRGBA8Unorm, XBGR8888.TextureFormat())
	assert.Equal(t, gputypes.TextureFormatUndefined, RGB565.TextureFormat())
}

func TestFormatSet(t *testing.T) {
	s := NewFormatSet(
		FormatModifier{Format: XRGB8888, Modifier: ModifierLinear},
		FormatModifier{Format: ARGB8888, Modifier: ModifierLinear},
		FormatModifier{Format: ARGB8888, Modifier: 42},
	)
	assert.True(t, s.Has(ARGB8888, 42))
	assert.False(t, s.Has(XRGB8888, 42))
	assert.True(t, s.HasFormat(XRGB8888))
	assert.Equal(t, []Format{ARGB8888, XRGB8888}, s.Formats())

	other := NewFormatSet(FormatModifier{Format: ARGB8888, Modifier: 42})
	assert.Len(t, s.Intersect(other), 1)

	c := s.Clone()
	c.Add(RGB565, ModifierLinear)
	assert.False(t, s.HasFormat(RGB565))
}

func TestImportShm(t *testing.T) {
	pool := newPool(t, 64*64*4)
	imp := NewImporter(NewFormatSet(FormatModifier{Format: ARGB8888}))

	buf, err := imp.Import(3, ShmDescriptor{
		Pool:   pool,
		Width:  64,
		Height: 64,
		Stride: 256,
		Format: ARGB8888,
	})
	require.NoError(t, err)
	assert.Equal(t, KindShm, buf.Kind())
	pix, err := buf.Pixels()
	require.NoError(t, err)
	assert.Len(t, pix, 64*64*4)

	_, err = imp.Import(4, ShmDescriptor{
		Pool:   pool,
		Width:  64,
		Height: 64,
		Stride: 256,
		Format: XRGB8888,
	})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	tests := []struct {
		name string
		desc ShmDescriptor
	}{
		{name: "SmallStride", desc: ShmDescriptor{Pool: pool, Width: 64, Height: 64, Stride: 100, Format: ARGB8888}},
		{name: "OutOfPool", desc: ShmDescriptor{Pool: pool, Offset: 4, Width: 64, Height: 64, Stride: 256, Format: ARGB8888}},
		{name: "Empty", desc: ShmDescriptor{Pool: pool, Width: 0, Height: 64, Stride: 256, Format: ARGB8888}},
		{name: "NoPool", desc: ShmDescriptor{Width: 1, Height: 1, Stride: 4, Format: ARGB8888}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := imp.Import(5, test.desc)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestImportDmabufModifier(t *testing.T) {
	imp := NewImporter(NewFormatSet(FormatModifier{Format: XRGB8888, Modifier: ModifierLinear}))
	_, err := imp.Import(1, DmabufDescriptor{
		Width:    4,
		Height:   4,
		Format:   XRGB8888,
		Modifier: 0x0100000000000001,
	})

	var ferr UnsupportedFormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, Modifier(0x0100000000000001), ferr.Modifier)
}

func TestReleaseWaitsForHoldersAndGuards(t *testing.T) {
	buf, err := NewOffscreen(4, 4, ARGB8888)
	require.NoError(t, err)

	var releases int
	buf.OnRelease(func() { releases++ })

	buf.Commit()
	buf.Lock()
	g := buf.AcquireRead(nil)
	assert.Equal(t, uint64(1), g.Generation())

	buf.Unlock()
	assert.Equal(t, 0, releases, "guard still outstanding")
	assert.True(t, buf.Busy())

	g.Release()
	assert.Equal(t, 1, releases)
	assert.False(t, buf.Busy())

	g.Release()
	assert.Equal(t, 1, releases, "double release is ignored")
}

func TestReleaseOnlyWhenBusy(t *testing.T) {
	buf, err := NewOffscreen(1, 1, XRGB8888)
	require.NoError(t, err)

	var releases int
	buf.OnRelease(func() { releases++ })

	buf.Lock()
	buf.Unlock()
	assert.Equal(t, 0, releases)
}

func TestDestroyDefersFree(t *testing.T) {
	buf, err := NewOffscreen(1, 1, XRGB8888)
	require.NoError(t, err)

	var released, freed bool
	buf.OnRelease(func() { released = true })
	buf.OnFree(func() { freed = true })

	buf.Commit()
	g := buf.AcquireRead(nil)
	buf.Destroy()
	assert.False(t, freed)

	pix, err := buf.Pixels()
	require.NoError(t, err)
	assert.Len(t, pix, 4)

	g.Release()
	assert.True(t, freed)
	assert.False(t, released, "destroyed buffers are not released to the client")
}

func TestGuardFence(t *testing.T) {
	buf, err := NewOffscreen(1, 1, XRGB8888)
	require.NoError(t, err)

	acquire := NewSyncPoint()
	g := buf.AcquireRead(acquire)
	assert.False(t, Signaled(g.Fence()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, Wait(ctx, g.Fence()), context.DeadlineExceeded)

	acquire.Signal()
	acquire.Signal()
	assert.True(t, Signaled(g.Fence()))
	assert.NoError(t, Wait(context.Background(), g.Fence()))

	assert.True(t, Signaled(buf.AcquireRead(nil).Fence()))
	assert.True(t, Signaled(nil))
}
