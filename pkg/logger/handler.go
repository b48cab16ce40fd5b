package logger

import (
	"context"
	"log/slog"
)

// ContextExtractor pulls one attribute out of a context.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

type attrsKey struct{}

// WithAttrs returns a context carrying attrs in addition to any already attached.
// They are emitted by loggers built with the ContextAttrs extractor.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// ContextAttrs emits the attributes attached with WithAttrs as one group-less set.
func ContextAttrs(ctx context.Context) (slog.Attr, bool) {
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	if len(attrs) == 0 {
		return slog.Attr{}, false
	}
	// An empty group key inlines its members.
	return slog.Attr{Key: "", Value: slog.GroupValue(attrs...)}, true
}

type decorator struct {
	next       slog.Handler
	extractors []ContextExtractor
}

// Decorate wraps next so every record gets the attributes extractors find
// in the logging context. Nil extractors are ignored.
func Decorate(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	var clean []ContextExtractor
	for _, ex := range extractors {
		if ex != nil {
			clean = append(clean, ex)
		}
	}
	if len(clean) == 0 {
		return next
	}
	return &decorator{next: next, extractors: clean}
}

func (d *decorator) Enabled(ctx context.Context, l slog.Level) bool {
	return d.next.Enabled(ctx, l)
}

func (d *decorator) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range d.extractors {
		if a, ok := ex(ctx); ok {
			rec.AddAttrs(a)
		}
	}
	return d.next.Handle(ctx, rec)
}

func (d *decorator) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &decorator{next: d.next.WithAttrs(attrs), extractors: d.extractors}
}

func (d *decorator) WithGroup(name string) slog.Handler {
	return &decorator{next: d.next.WithGroup(name), extractors: d.extractors}
}

// fanout sends each record to every enabled handler.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, rec slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
