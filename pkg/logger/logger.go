// Package logger provides opinionated logging for the engram system.
//
// Loggers are standard *slog.Logger values so every component depends only
// on the standard structured logging front-end; the handler behind it is
// selected here (text, JSON for services, or charmbracelet/log for pretty
// CLI output).
package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	pretty  bool
	json    bool
	source  bool
	writers []io.Writer
}

// New creates a *slog.Logger configured via options. With no options it
// writes Info-level text logs to stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{
		level:   slog.LevelInfo,
		writers: []io.Writer{os.Stdout},
	}
	for _, opt := range opts {
		opt(c)
	}

	var w io.Writer
	if len(c.writers) == 1 {
		w = c.writers[0]
	} else {
		w = io.MultiWriter(c.writers...)
	}

	var handler slog.Handler
	switch {
	case c.pretty:
		handler = charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmLevel(c.level),
			ReportCaller:    c.source,
			ReportTimestamp: true,
		})
	case c.json:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		})
	}

	return slog.New(handler)
}

// charmLevel maps an slog level onto the charmbracelet/log level scale.
func charmLevel(level slog.Level) charmlog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmlog.DebugLevel
	case level <= slog.LevelInfo:
		return charmlog.InfoLevel
	case level <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}
