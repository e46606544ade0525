// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"log/slog"

	"gviegas/rhi/driver"
)

// SetLogger configures the logger of this package and of
// every backend.
// By default nothing is logged. Passing nil disables
// logging again.
//
// Example:
//
//	rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) { driver.SetLogger(l) }

// Logger returns the current logger.
func Logger() *slog.Logger { return driver.Logger() }
