package ndsp

import (
	"os"

	"github.com/charmbracelet/log"
)

// NewLogger returns the logger used when a config leaves Logger unset.
// It writes warnings and errors to stderr.
func NewLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "ndsp",
		Level:  log.WarnLevel,
	})
}
