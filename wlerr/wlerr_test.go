package wlerr

import (
	"errors"
	"fmt"
	"testing"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurface(t *testing.T) {
	tests := []struct {
		err  error
		code uint32
	}{
		{fmt.Errorf("set scale: %w", surface.ErrInvalidScale), SurfaceInvalidScale},
		{surface.ErrInvalidTransform, SurfaceInvalidTransform},
		{surface.ErrInvalidSize, SurfaceInvalidSize},
		{surface.ErrRoleAlreadySet, DisplayInvalidObject},
	}
	for _, test := range tests {
		var perr *ProtocolError
		require.ErrorAs(t, Surface(7, test.err), &perr)
		assert.Equal(t, registry.ID(7), perr.Object)
		assert.Equal(t, test.code, perr.Code)
		assert.ErrorIs(t, perr, test.err)
	}

	other := errors.New("other")
	assert.Equal(t, other, Surface(7, other))
	assert.NoError(t, Surface(7, nil))
}

func TestSubsurface(t *testing.T) {
	var perr *ProtocolError
	require.ErrorAs(t, Subsurface(3, surface.ErrBadParent), &perr)
	assert.Equal(t, SubcompositorBadParent, perr.Code)

	require.ErrorAs(t, Subsurface(3, surface.ErrInvalidScale), &perr)
	assert.Equal(t, SurfaceInvalidScale, perr.Code)
}

func TestShm(t *testing.T) {
	var perr *ProtocolError
	require.ErrorAs(t, Shm(4, buffer.ErrUnsupportedFormat), &perr)
	assert.Equal(t, ShmInvalidFormat, perr.Code)

	require.ErrorAs(t, Shm(4, buffer.ErrInvalidDescriptor), &perr)
	assert.Equal(t, ShmInvalidStride, perr.Code)
}

func TestClassify(t *testing.T) {
	assert.True(t, IsProtocolError(Protocol(1, DisplayInvalidMethod, "bad")))
	assert.True(t, IsProtocolError(registry.ErrUnknownObject))
	assert.False(t, IsProtocolError(render.ErrContextLost))

	assert.True(t, IsResourceExhaustion(fmt.Errorf("create: %w", registry.ErrExhaustedIdentifiers)))
	assert.True(t, IsResourceExhaustion(render.ErrOutOfMemory))

	assert.True(t, IsBackendFailure(render.ErrContextLost))
	assert.True(t, IsBackendFailure(display.ErrPresentTimeout))
	assert.False(t, IsBackendFailure(registry.ErrUnknownObject))
}
