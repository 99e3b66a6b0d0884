package logger

import (
	"context"
	"log/slog"
)

// multiHandler duplicates every record across a set of slog handlers. The
// serve command relies on this to keep pretty stdout output and a JSON log
// file in sync.
type multiHandler struct {
	handlers []slog.Handler
}

// Multi wraps the handlers behind the given loggers in a single
// *slog.Logger that forwards each record to all of them.
func Multi(loggers ...*slog.Logger) *slog.Logger {
	handlers := make([]slog.Handler, len(loggers))
	for i, l := range loggers {
		handlers[i] = l.Handler()
	}
	return slog.New(&multiHandler{handlers: handlers})
}

// Enabled reports true when any wrapped handler accepts the level.
func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	wrapped := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		wrapped[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: wrapped}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	wrapped := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		wrapped[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: wrapped}
}
