package registry

// Kind identifies what sort of object an entry is.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDisplay
	KindRegistry
	KindCallback
	KindCompositor
	KindSurface
	KindRegion
	KindSubcompositor
	KindSubsurface
	KindShm
	KindShmPool
	KindBuffer
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindDisplay:
		return "wl_display"
	case KindRegistry:
		return "wl_registry"
	case KindCallback:
		return "wl_callback"
	case KindCompositor:
		return "wl_compositor"
	case KindSurface:
		return "wl_surface"
	case KindRegion:
		return "wl_region"
	case KindSubcompositor:
		return "wl_subcompositor"
	case KindSubsurface:
		return "wl_subsurface"
	case KindShm:
		return "wl_shm"
	case KindShmPool:
		return "wl_shm_pool"
	case KindBuffer:
		return "wl_buffer"
	case KindOutput:
		return "wl_output"
	}

	return "unknown"
}
