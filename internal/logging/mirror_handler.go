package logging

import (
	"context"
	"errors"
	"log/slog"
)

// mirrorHandler writes every record to the run log and, when the mirror's
// own level allows it, to a second destination such as stderr.
type mirrorHandler struct {
	primary slog.Handler
	mirror  slog.Handler
}

func (h mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.mirror.Enabled(ctx, level)
}

func (h mirrorHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if h.mirror.Enabled(ctx, record.Level) {
		errs = append(errs, h.mirror.Handle(ctx, record.Clone()))
	}
	if h.primary.Enabled(ctx, record.Level) {
		errs = append(errs, h.primary.Handle(ctx, record))
	}
	return errors.Join(errs...)
}

func (h mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return mirrorHandler{primary: h.primary.WithAttrs(attrs), mirror: h.mirror.WithAttrs(attrs)}
}

func (h mirrorHandler) WithGroup(name string) slog.Handler {
	return mirrorHandler{primary: h.primary.WithGroup(name), mirror: h.mirror.WithGroup(name)}
}

// Mirror returns a logger that also sends base's records to mirror.
func Mirror(base *slog.Logger, mirror slog.Handler) *slog.Logger {
	switch {
	case base == nil && mirror == nil:
		return NewNop()
	case mirror == nil:
		return base
	case base == nil:
		return slog.New(mirror)
	}
	return slog.New(mirrorHandler{primary: base.Handler(), mirror: mirror})
}
