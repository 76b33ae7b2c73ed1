package compositor

import (
	"errors"
	"fmt"

	"deedles.dev/wlkit/render"
	"deedles.dev/wlkit/render/multi"
	"deedles.dev/wlkit/render/software"
)

// ErrUnknownBackend is returned by NewRenderer for a backend name that
// it does not know.
var ErrUnknownBackend = errors.New("unknown renderer backend")

// NewRenderer returns a renderer by name. "software" is a single CPU
// renderer. "multi" fans every frame out to devices software
// renderers, which is mostly useful for exercising multi-GPU setups
// without any GPUs.
func NewRenderer(backend string, devices int) (render.Renderer, error) {
	switch backend {
	case "", "software":
		return software.New(), nil

	case "multi":
		if devices <= 0 {
			devices = 2
		}
		renderers := make([]render.Renderer, 0, devices)
		for range devices {
			renderers = append(renderers, software.New())
		}
		return multi.New(renderers...)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
