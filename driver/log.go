// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() { loggerPtr.Store(slog.New(nopHandler{})) }

// SetLogger sets the logger shared by the driver package
// and every backend.
// By default nothing is logged. Passing nil restores the
// default behavior.
// It is safe for concurrent use.
//
// Levels:
//   - slog.LevelDebug: per-frame diagnostics
//   - slog.LevelInfo: lifecycle events (driver opened, swapchain resized)
//   - slog.LevelWarn: degraded paths (fallbacks, renames)
//   - slog.LevelError: conditions that precede a fatal exit
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger.
// It is safe for concurrent use.
func Logger() *slog.Logger { return loggerPtr.Load() }
