package logger

import (
	"context"
	"log/slog"
	"runtime"
)

// sourceHandler decorates records of selected levels with their call
// site. The wrapped handler must run with AddSource disabled, otherwise
// the location would point into this package.
type sourceHandler struct {
	next   slog.Handler
	levels map[slog.Level]bool
}

func NewConditionalSourceHandler(next slog.Handler, levels ...slog.Level) slog.Handler {
	selected := make(map[slog.Level]bool, len(levels))
	for _, l := range levels {
		selected[l] = true
	}
	return &sourceHandler{next: next, levels: selected}
}

func (h *sourceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.levels[r.Level] {
		// Skip Callers, Handle, and the slog frontend frame.
		var pcs [1]uintptr
		runtime.Callers(3, pcs[:])
		frame, _ := runtime.CallersFrames(pcs[:]).Next()
		r.AddAttrs(slog.Any(slog.SourceKey, &slog.Source{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		}))
	}
	return h.next.Handle(ctx, r)
}

func (h *sourceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sourceHandler{next: h.next.WithAttrs(attrs), levels: h.levels}
}

func (h *sourceHandler) WithGroup(name string) slog.Handler {
	return &sourceHandler{next: h.next.WithGroup(name), levels: h.levels}
}

func (h *sourceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}
