// Package logging builds the single *logrus.Logger every component
// holds as a struct field (never a package-global), with optional
// rotation to disk via lumberjack. Long-lived resources (registry,
// server, storage handle) are threaded through at construction time
// rather than reached for through a global, so a logger is one more
// constructor argument instead of ambient state.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger New builds.
type Options struct {
	// Level is one of logrus's level names ("debug", "info", "warn",
	// "error"). Empty defaults to "info".
	Level string
	// JSON selects the JSON formatter (for machine-consumed log
	// shipping) over the default text formatter (for a terminal).
	JSON bool
	// FilePath, when non-empty, rotates logs to disk through
	// lumberjack instead of (or in addition to) stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// AlsoStderr keeps writing to stderr even when FilePath is set.
	AlsoStderr bool
}

// New builds a configured *logrus.Logger. It never touches the
// package-level logrus singleton (logrus.StandardLogger()) so multiple
// independent servers in one process (as the test suite spins up) never
// share state.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    firstNonZero(opts.MaxSizeMB, 100),
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		if opts.AlsoStderr {
			out = io.MultiWriter(os.Stderr, rotator)
		} else {
			out = rotator
		}
	}
	log.SetOutput(out)
	return log
}

func firstNonZero(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
