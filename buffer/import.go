package buffer

import (
	"errors"
	"fmt"

	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/shm"
)

var (
	// ErrUnsupportedFormat is returned when a buffer's format or
	// modifier can not be handled by the active renderer. The attach
	// request that carried the buffer should be rejected.
	ErrUnsupportedFormat = errors.New("unsupported buffer format")

	// ErrInvalidDescriptor is returned when a descriptor's geometry is
	// inconsistent, such as a stride too small for the width or a
	// buffer reaching outside of its pool.
	ErrInvalidDescriptor = errors.New("invalid buffer descriptor")
)

// UnsupportedFormatError details an ErrUnsupportedFormat.
type UnsupportedFormatError struct {
	Format   Format
	Modifier Modifier
}

func (err UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%v: %v with modifier 0x%x", ErrUnsupportedFormat, err.Format, uint64(err.Modifier))
}

func (err UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// Descriptor describes memory supplied by a client or device to be
// imported as a Buffer.
type Descriptor interface {
	build(id registry.ID, formats FormatSet) (*Buffer, error)
}

// ShmDescriptor describes a buffer inside of a shared memory pool.
type ShmDescriptor struct {
	Pool   *shm.Pool
	Offset int
	Width  int
	Height int
	Stride int
	Format Format
}

func (d ShmDescriptor) build(id registry.ID, formats FormatSet) (*Buffer, error) {
	if !formats.HasFormat(d.Format) {
		return nil, UnsupportedFormatError{Format: d.Format, Modifier: ModifierLinear}
	}

	bpp := d.Format.BytesPerPixel()
	switch {
	case d.Pool == nil:
		return nil, fmt.Errorf("%w: no pool", ErrInvalidDescriptor)
	case (d.Width <= 0) || (d.Height <= 0):
		return nil, fmt.Errorf("%w: size %vx%v", ErrInvalidDescriptor, d.Width, d.Height)
	case d.Stride < d.Width*bpp:
		return nil, fmt.Errorf("%w: stride %v too small for width %v", ErrInvalidDescriptor, d.Stride, d.Width)
	case (d.Offset < 0) || (d.Offset+d.Stride*d.Height > d.Pool.Size()):
		return nil, fmt.Errorf("%w: outside of pool of size %v", ErrInvalidDescriptor, d.Pool.Size())
	}

	d.Pool.Ref()
	return &Buffer{
		id:       id,
		kind:     KindShm,
		width:    d.Width,
		height:   d.Height,
		format:   d.Format,
		modifier: ModifierLinear,
		pool:     d.Pool,
		offset:   d.Offset,
		stride:   d.Stride,
	}, nil
}

// DmabufDescriptor describes a GPU buffer shared by file descriptor.
type DmabufDescriptor struct {
	Width    int
	Height   int
	Format   Format
	Modifier Modifier
	Planes   []Plane
}

func (d DmabufDescriptor) build(id registry.ID, formats FormatSet) (*Buffer, error) {
	if !formats.Has(d.Format, d.Modifier) {
		return nil, UnsupportedFormatError{Format: d.Format, Modifier: d.Modifier}
	}

	switch {
	case (d.Width <= 0) || (d.Height <= 0):
		return nil, fmt.Errorf("%w: size %vx%v", ErrInvalidDescriptor, d.Width, d.Height)
	case len(d.Planes) == 0:
		return nil, fmt.Errorf("%w: no planes", ErrInvalidDescriptor)
	}
	for i, p := range d.Planes {
		if (p.File == nil) || (p.Stride <= 0) || (p.Offset < 0) {
			return nil, fmt.Errorf("%w: plane %v", ErrInvalidDescriptor, i)
		}
	}

	return &Buffer{
		id:       id,
		kind:     KindDmabuf,
		width:    d.Width,
		height:   d.Height,
		format:   d.Format,
		modifier: d.Modifier,
		planes:   append([]Plane(nil), d.Planes...),
	}, nil
}

// Importer validates descriptors against the formats supported by the
// active renderer and turns them into Buffers.
type Importer struct {
	formats FormatSet
}

func NewImporter(formats FormatSet) *Importer {
	return &Importer{formats: formats.Clone()}
}

// Formats returns the format/modifier pairs that Import accepts.
func (i *Importer) Formats() FormatSet {
	return i.formats.Clone()
}

// SetFormats replaces the supported set, such as after the renderer
// has been re-initialized.
func (i *Importer) SetFormats(formats FormatSet) {
	i.formats = formats.Clone()
}

// Import creates a Buffer for the client object id from desc.
func (i *Importer) Import(id registry.ID, desc Descriptor) (*Buffer, error) {
	buf, err := desc.build(id, i.formats)
	if err != nil {
		return nil, fmt.Errorf("import buffer %v: %w", id, err)
	}
	return buf, nil
}
