// Package logging holds the process-wide logger.
package logging

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:   "kaboom-collab",
	Level:  hclog.LevelFromString(envLevel()),
	Output: os.Stderr,
})

func envLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "INFO"
}

// SetLevel changes the level of AppLogger and every logger derived from it.
// Unknown names fall back to info.
func SetLevel(level string) {
	lvl := hclog.LevelFromString(strings.TrimSpace(level))
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	AppLogger.SetLevel(lvl)
}

// Named returns a sub-logger for a component.
func Named(name string) hclog.Logger {
	return AppLogger.Named(name)
}
