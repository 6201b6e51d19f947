package logging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/log"
)

// Handler returns a logfmt handler that appends application log records to the artifact.
func (l *FileLogger) Handler(level slog.Level) slog.Handler {
	return log.LogfmtHandlerWithLevel(l.out, level)
}

// teeHandler sends every record to all handlers that accept its level.
type teeHandler []slog.Handler

// NewTeeHandler combines handlers; nil entries are skipped.
func NewTeeHandler(handlers ...slog.Handler) slog.Handler {
	var t teeHandler
	for _, h := range handlers {
		if h != nil {
			t = append(t, h)
		}
	}
	return t
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
