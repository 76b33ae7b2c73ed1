package display_test

import (
	"image"
	"testing"

	"deedles.dev/wlkit/backend/headless"
	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	small = display.Mode{Size: image.Pt(320, 240), Refresh: 60000}
	large = display.Mode{Size: image.Pt(640, 480), Refresh: 60000}
)

func framebuffer(t *testing.T, size image.Point) *buffer.Buffer {
	fb, err := buffer.NewOffscreen(size.X, size.Y, buffer.XRGB8888)
	require.NoError(t, err)
	return fb
}

func TestSurfacePresent(t *testing.T) {
	dev := headless.New("test", headless.WithModes(small, large))
	s, err := display.NewSurface(dev, nil)
	require.NoError(t, err)
	assert.Equal(t, small, s.CurrentMode())
	assert.False(t, s.CommitPending())

	fb := framebuffer(t, small.Size)
	damage := region.New(image.Rect(10, 10, 20, 20))
	require.NoError(t, s.Present(fb, damage, 1))
	dev.Vblank()

	front, ok := dev.Front()
	require.True(t, ok)
	assert.Same(t, fb, front.FB)
	assert.Equal(t, []image.Rectangle{image.Rect(10, 10, 20, 20)}, front.DamageClips)
	commits, flips := dev.Commits()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, flips)

	require.NoError(t, s.Present(fb, region.Full(), 2))
	dev.Vblank()
	front, _ = dev.Front()
	assert.Nil(t, front.DamageClips)
}

func TestSurfaceModeset(t *testing.T) {
	dev := headless.New("test", headless.WithModes(small, large))
	s, err := display.NewSurface(dev, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.UseMode(display.Mode{Size: image.Pt(1, 1)}), display.ErrUnsupportedMode)
	require.NoError(t, s.UseMode(large))
	assert.True(t, s.CommitPending())
	assert.Equal(t, small, s.CurrentMode())
	assert.Equal(t, large, s.PendingMode())

	fb := framebuffer(t, large.Size)
	assert.ErrorIs(t, s.PageFlip([]display.PlaneState{{Plane: headless.PrimaryPlane}}, 0), display.ErrModesetRequired)
	require.NoError(t, s.Present(fb, region.Full(), 1))
	assert.False(t, s.CommitPending())
	assert.Equal(t, large, s.CurrentMode())
	assert.Equal(t, large, dev.CurrentMode())

	commits, _ := dev.Commits()
	assert.Equal(t, 1, commits)
}

func TestSurfaceInactive(t *testing.T) {
	dev := headless.New("test", headless.WithModes(small))
	s, err := display.NewSurface(dev, nil)
	require.NoError(t, err)

	s.SetActive(false)
	assert.ErrorIs(t, s.Present(framebuffer(t, small.Size), region.Full(), 1), display.ErrInactive)
	assert.False(t, dev.Pending())

	s.SetActive(true)
	require.NoError(t, s.ResetState())
	assert.True(t, s.CommitPending(), "state after a reset is unknown")
	require.NoError(t, s.Present(framebuffer(t, small.Size), region.Full(), 1))
	commits, _ := dev.Commits()
	assert.Equal(t, 1, commits)
}

func TestModeInterval(t *testing.T) {
	assert.Equal(t, "320x240@60.000", small.String())
	assert.InDelta(t, 16666666, int64(small.Interval()), 1)
}
