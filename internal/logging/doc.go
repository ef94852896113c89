// Package logging assembles the structured slog loggers used by the bus and
// the recorder.
//
// It owns the console and JSON handlers, per-run log files with a stable
// pointer link, session tagging, and retention pruning. A no-op logger is
// provided for tests and for wiring code that cannot fail.
package logging
