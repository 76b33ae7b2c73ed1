// Package logger holds the process-wide structured logger. Components
// that accept a *log.Logger fall back to Default when given nil.
package logger

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var defaultLogger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "wlkit",
})

func init() {
	SetLevel(os.Getenv("WLKIT_LOG_LEVEL"))
}

// Default returns the process-wide logger.
func Default() *log.Logger {
	return defaultLogger
}

// Or returns l if it is not nil and Default otherwise.
func Or(l *log.Logger) *log.Logger {
	if l != nil {
		return l
	}
	return defaultLogger
}

// SetLevel sets the level of the default logger from its name. Unknown
// names select the info level.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		defaultLogger.SetLevel(log.DebugLevel)
	case "WARN", "WARNING":
		defaultLogger.SetLevel(log.WarnLevel)
	case "ERROR":
		defaultLogger.SetLevel(log.ErrorLevel)
	default:
		defaultLogger.SetLevel(log.InfoLevel)
	}
}
