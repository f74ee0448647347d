package frame

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/gogpu/voxrt/trace"
)

// Presenter receives finished frames. Present is called from the frame loop
// and must not retain f after returning unless it owns it; the orchestrator
// never reuses a frame.
type Presenter interface {
	Present(ctx context.Context, f *trace.Frame) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, f *trace.Frame) error

// Present implements Presenter.
func (fn PresenterFunc) Present(ctx context.Context, f *trace.Frame) error { return fn(ctx, f) }

// Discard drops every frame.
var Discard Presenter = PresenterFunc(func(context.Context, *trace.Frame) error { return nil })

// Tee presents every frame to each presenter in order and joins their
// errors.
func Tee(ps ...Presenter) Presenter {
	return PresenterFunc(func(ctx context.Context, f *trace.Frame) error {
		var errs []error
		for _, p := range ps {
			if err := p.Present(ctx, f); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// LatestPresenter keeps the most recent frame, for viewers that draw on
// their own schedule.
type LatestPresenter struct {
	mu    sync.Mutex
	frame *trace.Frame
	count uint64
}

// Present implements Presenter.
func (p *LatestPresenter) Present(_ context.Context, f *trace.Frame) error {
	p.mu.Lock()
	p.frame = f
	p.count++
	p.mu.Unlock()
	return nil
}

// Latest returns the last presented frame, or nil.
func (p *LatestPresenter) Latest() *trace.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// Count returns the number of frames presented.
func (p *LatestPresenter) Count() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// PNGPresenter writes each frame to Dir as a PNG file named after its
// sequence number.
type PNGPresenter struct {
	Dir string
	// Pattern is a fmt pattern taking the frame sequence number. Defaults to
	// "frame-%06d.png".
	Pattern string

	mu   sync.Mutex
	last string
}

// Present implements Presenter.
func (p *PNGPresenter) Present(_ context.Context, f *trace.Frame) error {
	pattern := p.Pattern
	if pattern == "" {
		pattern = "frame-%06d.png"
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("frame: create output dir: %w", err)
	}
	path := filepath.Join(p.Dir, fmt.Sprintf(pattern, f.Seq))
	if err := writePNG(path, f); err != nil {
		return err
	}
	p.mu.Lock()
	p.last = path
	p.mu.Unlock()
	return nil
}

// Last returns the path of the last written file.
func (p *PNGPresenter) Last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func writePNG(path string, f *trace.Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("frame: create %s: %w", path, err)
	}
	if err := png.Encode(file, f.Color); err != nil {
		_ = file.Close()
		return fmt.Errorf("frame: encode %s: %w", path, err)
	}
	return file.Close()
}
