package logger

import (
	"io"
	"log/slog"
)

// Option adjusts the logger built by New.
type Option func(*config)

// WithDebug lowers the level to Debug; otherwise the logger stays at Info.
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		} else {
			c.level = slog.LevelInfo
		}
	}
}

// WithPretty switches to the charmbracelet/log handler for colorized
// terminal output.
func WithPretty(pretty bool) Option {
	return func(c *config) {
		c.pretty = pretty
	}
}

// WithJSON emits records through slog's JSON handler, one object per line.
func WithJSON(json bool) Option {
	return func(c *config) {
		c.json = json
	}
}

// WithWriter replaces the default os.Stdout destination.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writers = []io.Writer{w}
	}
}

// WithWriters sends output to several destinations at once.
func WithWriters(w ...io.Writer) Option {
	return func(c *config) {
		c.writers = w
	}
}

// WithSource annotates each record with the emitting file and line.
func WithSource(source bool) Option {
	return func(c *config) {
		c.source = source
	}
}
