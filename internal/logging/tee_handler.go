package logging

import (
	"context"
	"log/slog"
)

// teeHandler forwards each record to every child that accepts its level.
type teeHandler []slog.Handler

// Tee returns a handler writing to all non-nil handlers. With one handler it
// returns that handler unchanged; with none it discards.
func Tee(handlers ...slog.Handler) slog.Handler {
	var live teeHandler
	for _, h := range handlers {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return NoopHandler{}
	case 1:
		return live[0]
	default:
		return live
	}
}

// TeeLogger returns a logger writing to base's handler plus extra.
func TeeLogger(base *slog.Logger, extra ...slog.Handler) *slog.Logger {
	if base != nil {
		extra = append([]slog.Handler{base.Handler()}, extra...)
	}
	return slog.New(Tee(extra...))
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = h.WithGroup(name)
	}
	return next
}
