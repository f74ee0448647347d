// Command voxview shows the demo voxel world in a window.
//
// Controls: arrow keys orbit, W/S zoom, space drops sand at the center,
// escape quits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"syscall"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/gogpu/voxrt"
	"github.com/gogpu/voxrt/frame"
	"github.com/gogpu/voxrt/internal/demo"
	"github.com/gogpu/voxrt/snapshot"
	"github.com/gogpu/voxrt/trace"
	"github.com/gogpu/voxrt/voxel"
)

var _ = reflect.TypeOf(config{})

type config struct {
	Config   string `cli:"" env:"VOXRT_CONFIG"    help:"JSON renderer config file."`
	Backend  string `cli:"" env:"VOXRT_BACKEND"   help:"Device backend (host|vulkan|auto)."`
	Load     string `cli:"" env:"VOXRT_LOAD"      help:"Snapshot to view instead of the demo world."`
	Zoom     int    `cli:"" env:"VOXRT_ZOOM"      help:"Window pixels per frame pixel."`
	LogLevel string `cli:"" env:"VOXRT_LOG_LEVEL" help:"Log level (debug|info|warn|error)."`
	Help     bool   `cli:"" env:"-"               help:"Show help."`
}

func main() {
	conf := config{
		Zoom:     2,
		LogLevel: "info",
	}

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Shows a voxel world in a window.").
		Options(&conf)
	cli.Load()

	if err := run(ctx, conf); err != nil && !errors.Is(err, ebiten.Termination) {
		slog.Error("voxview failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(conf.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := voxrt.DefaultConfig()
	cfg.Width, cfg.Height = 320, 180
	cfg.Automata = true
	if conf.Config != "" {
		var err error
		if cfg, err = voxrt.LoadConfig(conf.Config); err != nil {
			return err
		}
	}
	if conf.Backend != "" {
		cfg.Backend = voxrt.Backend(conf.Backend)
	}

	latest := &frame.LatestPresenter{}
	opts := []voxrt.Option{voxrt.WithLogger(logger), voxrt.WithPresenter(latest)}
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

	ext := r.World().Extent()
	if world == nil {
		if res := r.Generate(demo.Terrain(ext)); res.Err != nil {
			return res.Err
		}
		r.World().Apply(demo.Scene(ext))
	}

	g := &viewer{
		ctx:      ctx,
		r:        r,
		latest:   latest,
		ext:      ext,
		yaw:      30,
		pitch:    35,
		distance: float32(max(ext.X, ext.Z)) * 1.1,
	}
	ebiten.SetWindowTitle("voxview " + r.ID().String()[:8])
	ebiten.SetWindowSize(cfg.Width*max(1, conf.Zoom), cfg.Height*max(1, conf.Zoom))
	ebiten.SetTPS(30)
	return ebiten.RunGame(g)
}

type viewer struct {
	ctx    context.Context
	r      *voxrt.Renderer
	latest *frame.LatestPresenter
	ext    voxel.Extent

	yaw, pitch, distance float32

	img *ebiten.Image
}

func (v *viewer) camera() trace.Camera {
	center := mgl32.Vec3{float32(v.ext.X) / 2, float32(v.ext.Y) / 3, float32(v.ext.Z) / 2}
	return trace.Orbit(center, v.distance, v.yaw, v.pitch)
}

func (v *viewer) Update() error {
	if err := v.ctx.Err(); err != nil || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		v.yaw -= 3
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		v.yaw += 3
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		v.pitch = min(v.pitch+2, 89)
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		v.pitch = max(v.pitch-2, -89)
	}
	if ebiten.IsKeyPressed(ebiten.KeyW) {
		v.distance = max(v.distance*0.97, 4)
	}
	if ebiten.IsKeyPressed(ebiten.KeyS) {
		v.distance *= 1.03
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		top := voxel.C(v.ext.X/2, v.ext.Y-1, v.ext.Z/2)
		if err := v.r.Submit(demo.SandColumn(v.ext, top, 4)...); err != nil && !errors.Is(err, voxrt.ErrQueueFull) {
			return err
		}
	}

	res, err := v.r.Frame(v.ctx, v.camera())
	if err != nil {
		return err
	}
	if res.Discarded {
		slog.Debug("frame discarded", "reason", res.Reason)
	}
	return nil
}

func (v *viewer) Draw(screen *ebiten.Image) {
	f := v.latest.Latest()
	if f == nil {
		return
	}
	if v.img == nil || v.img.Bounds().Dx() != f.Width || v.img.Bounds().Dy() != f.Height {
		if v.img != nil {
			v.img.Deallocate()
		}
		v.img = ebiten.NewImage(f.Width, f.Height)
	}
	v.img.WritePixels(f.Color.Pix)

	// Degraded frames are smaller than the screen; stretch them.
	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(sw)/float64(f.Width), float64(sh)/float64(f.Height))
	screen.DrawImage(v.img, op)
}

func (v *viewer) Layout(_, _ int) (int, int) {
	cfg := v.r.Config()
	return cfg.Width, cfg.Height
}
