package voxrt

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/frame"
	"github.com/gogpu/voxrt/trace"
	"github.com/gogpu/voxrt/voxel"
)

// Option configures a Renderer during creation.
//
// Example:
//
//	// Default: device chosen by Config.Backend, frames discarded
//	r, err := voxrt.New(cfg)
//
//	// Write every frame to disk and export metrics
//	r, err := voxrt.New(cfg,
//	    voxrt.WithPresenter(&frame.PNGPresenter{Dir: "out"}),
//	    voxrt.WithRegisterer(prometheus.DefaultRegisterer),
//	)
type Option func(*options)

type options struct {
	device     device.Device
	dispatcher trace.Dispatcher
	presenter  frame.Presenter
	registerer prometheus.Registerer
	logger     *slog.Logger
	world      *voxel.World
	palette    *voxel.Palette
}

// WithDevice uses dev instead of creating one from Config.Backend. The
// caller keeps ownership: Close does not close dev.
func WithDevice(dev device.Device) Option {
	return func(o *options) {
		o.device = dev
	}
}

// WithDispatcher replaces the tracer chosen for the device.
func WithDispatcher(d trace.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithPresenter sets where finished frames go. Frames are discarded by
// default.
func WithPresenter(p frame.Presenter) Option {
	return func(o *options) {
		o.presenter = p
	}
}

// WithRegisterer registers the frame metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLogger calls SetLogger with l before the renderer is built.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWorld renders an existing world, for example one loaded from a
// snapshot. Its extent and chunk size override the config.
func WithWorld(w *voxel.World) Option {
	return func(o *options) {
		o.world = w
	}
}

// WithPalette sets the material colors used for shading and export.
func WithPalette(p *voxel.Palette) Option {
	return func(o *options) {
		o.palette = p
	}
}
