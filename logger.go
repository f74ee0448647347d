package voxrt

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/frame"
	"github.com/gogpu/voxrt/trace"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for voxrt and all its sub-packages.
// By default, voxrt produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used by voxrt:
//   - [slog.LevelDebug]: per-frame diagnostics (uploads, dispatch sizes, discards)
//   - [slog.LevelInfo]: lifecycle events (device selected, resolution restored)
//   - [slog.LevelWarn]: degradation and fallback (GPU tracer disabled, render scale lowered)
//
// Example:
//
//	voxrt.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	device.SetLogger(l)
	trace.SetLogger(l)
	frame.SetLogger(l)
}

// Logger returns the current logger used by voxrt.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
