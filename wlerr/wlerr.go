// Package wlerr classifies the errors produced by the compositor core
// by the scope they are isolated to.
//
// Protocol errors are caused by client misuse and terminate the
// offending client's connection. Resource exhaustion fails the request
// that triggered it. Backend failures are isolated to the affected
// output or renderer. Invariant violations are bugs in the compositor
// and are not represented here; they panic.
package wlerr

import (
	"errors"
	"fmt"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/shm"
	"deedles.dev/wlkit/surface"
)

// Core protocol error codes, as sent in wl_display.error.
const (
	DisplayInvalidObject  uint32 = 0
	DisplayInvalidMethod  uint32 = 1
	DisplayNoMemory       uint32 = 2
	DisplayImplementation uint32 = 3

	ShmInvalidFormat uint32 = 0
	ShmInvalidStride uint32 = 1
	ShmInvalidFD     uint32 = 2

	SurfaceInvalidScale      uint32 = 0
	SurfaceInvalidTransform  uint32 = 1
	SurfaceInvalidSize       uint32 = 2
	SurfaceInvalidOffset     uint32 = 3
	SurfaceDefunctRoleObject uint32 = 4

	SubcompositorBadSurface uint32 = 0
	SubcompositorBadParent  uint32 = 1

	SubsurfaceBadSurface uint32 = 0
)

// ProtocolError is a violation of the protocol by a client. It is
// delivered to the client with wl_display.error, after which the
// client is disconnected.
type ProtocolError struct {
	Object  registry.ID
	Code    uint32
	Message string
	Err     error
}

// Protocol returns a ProtocolError with a formatted message.
func Protocol(obj registry.ID, code uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Object:  obj,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns a ProtocolError caused by err.
func Wrap(obj registry.ID, code uint32, err error) *ProtocolError {
	return &ProtocolError{
		Object:  obj,
		Code:    code,
		Message: err.Error(),
		Err:     err,
	}
}

func (err *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on object %v (code %v): %v", err.Object, err.Code, err.Message)
}

func (err *ProtocolError) Unwrap() error {
	return err.Err
}

var surfaceCodes = []struct {
	err  error
	code uint32
}{
	{surface.ErrInvalidScale, SurfaceInvalidScale},
	{surface.ErrInvalidTransform, SurfaceInvalidTransform},
	{surface.ErrInvalidSize, SurfaceInvalidSize},
}

// Surface converts an error returned by a wl_surface request on obj
// into a ProtocolError. Errors that are not caused by the client are
// returned unchanged.
func Surface(obj registry.ID, err error) error {
	if err == nil {
		return nil
	}
	for _, c := range surfaceCodes {
		if errors.Is(err, c.err) {
			return Wrap(obj, c.code, err)
		}
	}
	if errors.Is(err, surface.ErrRoleAlreadySet) {
		return Wrap(obj, DisplayInvalidObject, err)
	}
	return err
}

// Subsurface converts an error returned while creating or configuring
// a sub-surface into a ProtocolError.
func Subsurface(obj registry.ID, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, surface.ErrBadParent):
		return Wrap(obj, SubcompositorBadParent, err)
	case errors.Is(err, surface.ErrBadSurface), errors.Is(err, surface.ErrRoleAlreadySet):
		return Wrap(obj, SubcompositorBadSurface, err)
	case errors.Is(err, surface.ErrBadSibling):
		return Wrap(obj, SubsurfaceBadSurface, err)
	}
	return Surface(obj, err)
}

// Shm converts an error from importing a shared memory buffer into a
// ProtocolError.
func Shm(obj registry.ID, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, buffer.ErrUnsupportedFormat):
		return Wrap(obj, ShmInvalidFormat, err)
	case errors.Is(err, buffer.ErrInvalidDescriptor), errors.Is(err, shm.ErrOutOfBounds), errors.Is(err, shm.ErrShrink):
		return Wrap(obj, ShmInvalidStride, err)
	}
	return err
}

// IsProtocolError reports whether err is caused by client misuse.
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) ||
		errors.Is(err, surface.ErrRoleAlreadySet) ||
		errors.Is(err, registry.ErrUnknownObject)
}

// IsResourceExhaustion reports whether err is caused by running out of
// identifiers or memory.
func IsResourceExhaustion(err error) bool {
	return errors.Is(err, registry.ErrExhaustedIdentifiers) ||
		errors.Is(err, render.ErrOutOfMemory)
}

// IsBackendFailure reports whether err is a failure of a renderer or
// display that should be handled by reinitializing it.
func IsBackendFailure(err error) bool {
	return errors.Is(err, render.ErrContextLost) ||
		errors.Is(err, buffer.ErrUnsupportedFormat) ||
		errors.Is(err, display.ErrPresentTimeout)
}
