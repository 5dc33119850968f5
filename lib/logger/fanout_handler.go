package logger

import (
	"context"
	"errors"
	"log/slog"
)

// FanoutHandler passes every record to each wrapped handler that accepts
// its level. It is used to mirror console logs into the OpenTelemetry
// log bridge.
//
// Implementation follows the slog handler guide for WithAttrs/WithGroup:
// https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler wraps the given handlers.
func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

// Enabled reports whether any wrapped handler handles the level.
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, w := range h.handlers {
		if w.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every interested handler. A failing handler
// does not stop delivery to the others.
func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, w := range h.handlers {
		if !w.Enabled(ctx, r.Level) {
			continue
		}
		if err := w.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs returns a new handler with the given attributes.
func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, w := range h.handlers {
		next[i] = w.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: next}
}

// WithGroup returns a new handler with the given group name.
func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, w := range h.handlers {
		next[i] = w.WithGroup(name)
	}
	return &FanoutHandler{handlers: next}
}
