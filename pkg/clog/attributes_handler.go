package clog

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

const redacted = "[REDACTED]"

// AttributesHandler decorates a slog.Handler with the attributes collected in
// the record's context. Values under credential-like keys are replaced
// before they reach the wrapped handler.
type AttributesHandler struct {
	handler slog.Handler
}

func NewAttributesHandler(handler slog.Handler) *AttributesHandler {
	return &AttributesHandler{handler: handler}
}

func (h *AttributesHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *AttributesHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	if attrs := GetAttributes(ctx); len(attrs) > 0 {
		for _, k := range slices.Sorted(maps.Keys(attrs)) {
			out.AddAttrs(redact(slog.Any(k, attrs[k])))
		}
	}
	return h.handler.Handle(ctx, out)
}

func (h *AttributesHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	safe := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		safe[i] = redact(a)
	}
	return &AttributesHandler{handler: h.handler.WithAttrs(safe)}
}

func (h *AttributesHandler) WithGroup(name string) slog.Handler {
	return &AttributesHandler{handler: h.handler.WithGroup(name)}
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{"token", "password", "authorization"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func redact(a slog.Attr) slog.Attr {
	if sensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		safe := make([]any, len(group))
		for i, g := range group {
			safe[i] = redact(g)
		}
		return slog.Group(a.Key, safe...)
	}
	return a
}
