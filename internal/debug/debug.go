// Package debug implements protocol tracing enabled by setting
// WAYLAND_DEBUG to a positive number.
package debug

import (
	"os"
	"strconv"

	"deedles.dev/wlkit/internal/logger"
	"github.com/charmbracelet/log"
)

var debug = func(string, ...any) {}

func init() {
	debugLevel, err := strconv.ParseInt(os.Getenv("WAYLAND_DEBUG"), 10, 0)
	if err != nil {
		return
	}
	if debugLevel > 0 {
		trace := logger.Default().WithPrefix("wayland")
		trace.SetLevel(log.DebugLevel)
		debug = func(str string, args ...any) { trace.Debugf(str, args...) }
	}
}

func Printf(str string, args ...any) {
	debug(str, args...)
}
