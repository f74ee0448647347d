// Command voxrender renders the demo voxel world, or a saved snapshot, to a
// sequence of PNG frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/voxrt"
	"github.com/gogpu/voxrt/export"
	"github.com/gogpu/voxrt/frame"
	"github.com/gogpu/voxrt/internal/demo"
	"github.com/gogpu/voxrt/snapshot"
	"github.com/gogpu/voxrt/voxel"
)

// Keeps the config field names visible to the cli package under obfuscation.
var _ = reflect.TypeOf(config{})

type config struct {
	Config      string        `cli:""        env:"VOXRT_CONFIG"       help:"JSON renderer config file."`
	Backend     string        `cli:""        env:"VOXRT_BACKEND"      help:"Device backend (host|vulkan|auto). Overrides the config file."`
	Width       int           `cli:""        env:"VOXRT_WIDTH"        help:"Frame width. Overrides the config file."`
	Height      int           `cli:""        env:"VOXRT_HEIGHT"       help:"Frame height. Overrides the config file."`
	Frames      int           `cli:""        env:"VOXRT_FRAMES"       help:"Number of frames to render."`
	Out         string        `cli:""        env:"VOXRT_OUT"          help:"Directory PNG frames are written to."`
	Load        string        `cli:""        env:"VOXRT_LOAD"         help:"Snapshot to render instead of the demo world."`
	Save        string        `cli:""        env:"VOXRT_SAVE"         help:"Write a snapshot of the final world to this file."`
	GLB         string        `cli:""        env:"VOXRT_GLB"          help:"Export the final world as binary glTF to this file."`
	MetricsAddr string        `cli:""        env:"VOXRT_METRICS_ADDR" help:"Serve prometheus metrics on this address while rendering."`
	LogLevel    string        `cli:""        env:"VOXRT_LOG_LEVEL"    help:"Log level (debug|info|warn|error)."`
	Hold        time.Duration `cli:",hidden" env:"VOXRT_HOLD"         help:"Keep serving metrics this long after the last frame."`
	Version     bool          `cli:""        env:"-"                  help:"Show version."`
	Help        bool          `cli:""        env:"-"                  help:"Show help."`
}

func main() {
	conf := config{
		Frames:   24,
		Out:      "frames",
		LogLevel: "info",
	}

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Renders a voxel world to PNG frames.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(voxrt.Version)
		os.Exit(0)
	}

	if err := run(ctx, conf); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("voxrender failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(conf.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := voxrt.DefaultConfig()
	if conf.Config != "" {
		var err error
		if cfg, err = voxrt.LoadConfig(conf.Config); err != nil {
			return err
		}
	}
	if conf.Backend != "" {
		cfg.Backend = voxrt.Backend(conf.Backend)
	}
	if conf.Width > 0 {
		cfg.Width = conf.Width
	}
	if conf.Height > 0 {
		cfg.Height = conf.Height
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	opts := []voxrt.Option{
		voxrt.WithLogger(logger),
		voxrt.WithRegisterer(reg),
		voxrt.WithPresenter(&frame.PNGPresenter{Dir: conf.Out}),
	}

	var world *voxel.World
	if conf.Load != "" {
		var err error
		if world, err = snapshot.LoadFile(conf.Load); err != nil {
			return err
		}
		opts = append(opts, voxrt.WithWorld(world))
	}

	r, err := voxrt.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	if world == nil {
		ext := r.World().Extent()
		start := time.Now()
		if res := r.Generate(demo.Terrain(ext)); res.Err != nil {
			return res.Err
		}
		r.World().Apply(demo.Scene(ext))
		logger.Info("demo world generated", "extent", ext.String(), "solid", r.World().SolidCount(), "took", time.Since(start))
	}

	if conf.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              conf.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	ext := r.World().Extent()
	for i := range conf.Frames {
		res, err := r.Frame(ctx, demo.Camera(ext, i, conf.Frames))
		if err != nil {
			return err
		}
		logger.Debug("frame",
			"seq", res.Seq,
			"uploaded", len(res.Sync.Uploaded),
			"failed", len(res.Sync.Failed),
			"scale", res.Scale,
			"dispatch", res.Timings.Dispatch)
	}
	logger.Info("rendering done", "frames", conf.Frames, "stats", r.Stats().String())

	if conf.Save != "" {
		if err := snapshot.SaveFile(conf.Save, r.World()); err != nil {
			return err
		}
		logger.Info("snapshot saved", "path", conf.Save)
	}
	if conf.GLB != "" {
		if err := export.SaveGLB(conf.GLB, voxel.VolumeOf(r.World()), r.Palette()); err != nil {
			return err
		}
		logger.Info("glb exported", "path", conf.GLB)
	}

	if conf.MetricsAddr != "" && conf.Hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(conf.Hold):
		}
	}
	return nil
}
