package watcher

import (
	"context"
	"errors"
)

// Handoff receives the absolute path of an accepted file.
type Handoff interface {
	Handoff(ctx context.Context, path string) error
}

// HandoffFunc adapts a function to Handoff.
type HandoffFunc func(ctx context.Context, path string) error

// Handoff calls f.
func (f HandoffFunc) Handoff(ctx context.Context, path string) error { return f(ctx, path) }

// Chain runs every hand-off in order, even when an earlier one fails.
func Chain(handoffs ...Handoff) Handoff {
	return HandoffFunc(func(ctx context.Context, path string) error {
		var errs []error
		for _, h := range handoffs {
			if h == nil {
				continue
			}
			if err := h.Handoff(ctx, path); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
