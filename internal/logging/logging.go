// Package logging provides dependency-injected structured logging for the
// filesystem engine's subsystems.
//
// Design principles (mirrored from the project's ingestion-pipeline sibling):
//   - Logging is dependency-injected, never global.
//   - Each subsystem owns its own scoped logger, scoped once at construction.
//   - slog.With() attaches default attributes such as "component".
//   - A nil logger is replaced by a discard logger, never a panic.
//
// Logging stays sparse: scan, GC, and checkpoint log at lifecycle boundaries
// (block visited, victim selected, checkpoint saved) and never inside the
// per-chunk hot loop.
package logging

import (
	"context"
	"log/slog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger. Every
// constructor in this module that accepts an optional *slog.Logger should
// route it through Default before storing it.
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// Scoped returns a derived logger tagged with the given component name, the
// way every subsystem (nand, scan, gc, checkpoint, ...) identifies itself in
// shared log output.
func Scoped(logger *slog.Logger, component string) *slog.Logger {
	return Default(logger).With("component", component)
}
