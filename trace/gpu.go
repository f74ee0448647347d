package trace

import (
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxrt/device"
	"github.com/gogpu/voxrt/voxel"
)

//go:embed shaders/trace.wgsl
var traceShaderWGSL string

const (
	paramsSize    = 176
	workgroupSize = 8
	fenceTimeout  = 5 * time.Second
	outputCount   = 3 // color, depth, info
	flagShadows   = 1
	flagRaySteps  = 2
	gpuInfinity   = math.MaxFloat32
)

// ShaderSource returns the WGSL source of the traversal shader.
func ShaderSource() string { return traceShaderWGSL }

// CompileShader compiles the traversal shader to SPIR-V words.
func CompileShader() ([]uint32, error) {
	spirvBytes, err := naga.Compile(ShaderSource())
	if err != nil {
		return nil, fmt.Errorf("trace: failed to compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return code, nil
}

// GPUDispatcher traces frames with a compute shader on a HAL device. The
// chunk buffers owned by the buffer manager are copied into one volume buffer
// on the GPU before the shader runs.
//
// Requests whose scene does not expose chunk buffers, and every request after
// GPU setup failed, are traced by the CPU fallback.
type GPUDispatcher struct {
	mu       sync.Mutex
	dev      *device.HALDevice
	fallback *CPUDispatcher
	ownsCPU  bool
	disabled error

	pipe *gpuPipeline

	paramsBuf  hal.Buffer
	paletteBuf hal.Buffer
	volBuf     hal.Buffer
	volSize    uint64
	outBufs    [outputCount]hal.Buffer
	staging    hal.Buffer
	pixels     int
}

// NewGPUDispatcher creates a dispatcher on dev. Devices other than
// *device.HALDevice always use the fallback. A nil fallback creates a CPU
// dispatcher owned by the GPU dispatcher.
func NewGPUDispatcher(dev device.Device, fallback *CPUDispatcher) *GPUDispatcher {
	g := &GPUDispatcher{fallback: fallback}
	if fallback == nil {
		g.fallback = NewCPUDispatcher(0)
		g.ownsCPU = true
	}
	if hd, ok := dev.(*device.HALDevice); ok {
		g.dev = hd
	} else {
		name := "<nil>"
		if dev != nil {
			name = dev.Name()
		}
		g.disabled = fmt.Errorf("trace: device %q has no HAL queue", name)
		slogger().Warn("trace: GPU dispatch unavailable, using CPU", "device", name)
	}
	return g
}

// Name implements Dispatcher.
func (g *GPUDispatcher) Name() string { return "gpu" }

// Active reports whether dispatches run on the GPU. It returns the reason
// when they do not.
func (g *GPUDispatcher) Active() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled == nil, g.disabled
}

// Dispatch implements Dispatcher.
func (g *GPUDispatcher) Dispatch(ctx context.Context, req Request) (*Frame, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	scene, ok := req.Scene.(ResidentScene)
	if !ok {
		return g.fallback.Dispatch(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled != nil {
		return g.fallback.Dispatch(ctx, req)
	}

	f, err := g.dispatch(scene, req)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrDeviceClosed):
		return nil, err
	default:
		g.disabled = err
		slogger().Warn("trace: GPU dispatch failed, falling back to CPU", "err", err)
		return g.fallback.Dispatch(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slogger().Debug("trace: gpu dispatch", "seq", req.Seq, "size", fmt.Sprintf("%dx%d", req.Width, req.Height))
	return f, nil
}

func (g *GPUDispatcher) dispatch(scene ResidentScene, req Request) (*Frame, error) {
	w := scene.World()
	size := w.ChunkSize()
	chunkBytes := uint64(size * size * size * voxel.BytesPerVoxel)
	if chunkBytes%4 != 0 {
		return nil, fmt.Errorf("trace: chunk size %d is not word aligned", size)
	}
	resident := make(map[voxel.ChunkKey]hal.Buffer)
	for _, h := range scene.Handles() {
		if hb, ok := h.Buffer.(device.HALBuffer); ok && h.Buffer.Size() == chunkBytes {
			resident[h.Key] = hb.HAL()
		}
	}

	var f *Frame
	err := g.dev.Do(func(d hal.Device, q hal.Queue) error {
		if g.pipe == nil {
			p, err := newGPUPipeline(d)
			if err != nil {
				return err
			}
			g.pipe = p
		}
		chunks := w.Chunks()
		if err := g.ensureBuffers(d, uint64(len(chunks))*chunkBytes, req.Width*req.Height); err != nil {
			return err
		}

		q.WriteBuffer(g.paramsBuf, 0, encodeParams(w, req))
		q.WriteBuffer(g.paletteBuf, 0, req.Settings.normalized().Palette.Bytes())
		var zero []byte
		for i, ch := range chunks {
			if _, ok := resident[ch.Key()]; !ok {
				if zero == nil {
					zero = make([]byte, chunkBytes)
				}
				q.WriteBuffer(g.volBuf, uint64(i)*chunkBytes, zero)
			}
		}

		bg, err := g.bindGroup(d)
		if err != nil {
			return err
		}
		defer d.DestroyBindGroup(bg)

		encoder, err := d.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "trace_encoder"})
		if err != nil {
			return fmt.Errorf("create command encoder: %w", err)
		}
		if err := encoder.BeginEncoding("trace"); err != nil {
			return fmt.Errorf("begin encoding: %w", err)
		}
		for i, ch := range chunks {
			if src, ok := resident[ch.Key()]; ok {
				encoder.CopyBufferToBuffer(src, g.volBuf, []hal.BufferCopy{
					{SrcOffset: 0, DstOffset: uint64(i) * chunkBytes, Size: chunkBytes},
				})
			}
		}
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "trace_pass"})
		pass.SetPipeline(g.pipe.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(
			uint32((req.Width+workgroupSize-1)/workgroupSize),  //nolint:gosec // frame sizes fit uint32
			uint32((req.Height+workgroupSize-1)/workgroupSize), //nolint:gosec // frame sizes fit uint32
			1)
		pass.End()
		plane := uint64(req.Width * req.Height * 4)
		for i, buf := range g.outBufs {
			encoder.CopyBufferToBuffer(buf, g.staging, []hal.BufferCopy{
				{SrcOffset: 0, DstOffset: uint64(i) * plane, Size: plane},
			})
		}
		cmdBuf, err := encoder.EndEncoding()
		if err != nil {
			return fmt.Errorf("end encoding: %w", err)
		}
		defer d.FreeCommandBuffer(cmdBuf)

		fence, err := d.CreateFence()
		if err != nil {
			return fmt.Errorf("create fence: %w", err)
		}
		defer d.DestroyFence(fence)
		if err := q.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		ok, err := d.Wait(fence, 1, fenceTimeout)
		if err != nil || !ok {
			return fmt.Errorf("wait for GPU: ok=%v err=%w", ok, err)
		}

		readback := make([]byte, plane*outputCount)
		if err := q.ReadBuffer(g.staging, 0, readback); err != nil {
			return fmt.Errorf("readback: %w", err)
		}
		f = decodeFrame(readback, req)
		return nil
	})
	return f, err
}

// ensureBuffers (re)creates the volume and output buffers when the world or
// frame size changed. Callers hold the queue.
func (g *GPUDispatcher) ensureBuffers(d hal.Device, volSize uint64, pixels int) error {
	create := func(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
		buf, err := d.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
		if err != nil {
			return nil, fmt.Errorf("create %s buffer: %w", label, err)
		}
		return buf, nil
	}
	var err error
	if g.paramsBuf == nil {
		if g.paramsBuf, err = create("trace_params", paramsSize,
			gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst); err != nil {
			return err
		}
	}
	if g.paletteBuf == nil {
		if g.paletteBuf, err = create("trace_palette", 256*4,
			gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst); err != nil {
			return err
		}
	}
	if g.volBuf == nil || g.volSize != volSize {
		if g.volBuf != nil {
			d.DestroyBuffer(g.volBuf)
			g.volBuf = nil
		}
		if g.volBuf, err = create("trace_volume", volSize,
			gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst); err != nil {
			return err
		}
		g.volSize = volSize
	}
	if g.staging == nil || g.pixels != pixels {
		g.destroyOutputs(d)
		plane := uint64(pixels * 4)
		for i := range g.outBufs {
			if g.outBufs[i], err = create("trace_output", plane,
				gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc); err != nil {
				return err
			}
		}
		if g.staging, err = create("trace_staging", plane*outputCount,
			gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst); err != nil {
			return err
		}
		g.pixels = pixels
	}
	return nil
}

func (g *GPUDispatcher) destroyOutputs(d hal.Device) {
	for i, buf := range g.outBufs {
		if buf != nil {
			d.DestroyBuffer(buf)
			g.outBufs[i] = nil
		}
	}
	if g.staging != nil {
		d.DestroyBuffer(g.staging)
		g.staging = nil
	}
	g.pixels = 0
}

func (g *GPUDispatcher) bindGroup(d hal.Device) (hal.BindGroup, error) {
	plane := uint64(g.pixels * 4)
	entry := func(binding uint32, buf hal.Buffer, size uint64) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: size},
		}
	}
	bg, err := d.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "trace_bind_group",
		Layout: g.pipe.layout,
		Entries: []gputypes.BindGroupEntry{
			entry(0, g.paramsBuf, paramsSize),
			entry(1, g.volBuf, g.volSize),
			entry(2, g.paletteBuf, 256*4),
			entry(3, g.outBufs[0], plane),
			entry(4, g.outBufs[1], plane),
			entry(5, g.outBufs[2], plane),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	return bg, nil
}

// Close releases GPU resources and the owned fallback.
func (g *GPUDispatcher) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dev != nil {
		_ = g.dev.Do(func(d hal.Device, _ hal.Queue) error {
			g.destroyOutputs(d)
			for _, buf := range []hal.Buffer{g.paramsBuf, g.paletteBuf, g.volBuf} {
				if buf != nil {
					d.DestroyBuffer(buf)
				}
			}
			g.paramsBuf, g.paletteBuf, g.volBuf = nil, nil, nil
			if g.pipe != nil {
				g.pipe.destroy(d)
				g.pipe = nil
			}
			return nil
		})
	}
	if g.ownsCPU {
		return g.fallback.Close()
	}
	return nil
}

// gpuPipeline holds the compiled traversal pipeline.
type gpuPipeline struct {
	module         hal.ShaderModule
	layout         hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.ComputePipeline
}

func newGPUPipeline(d hal.Device) (*gpuPipeline, error) {
	code, err := CompileShader()
	if err != nil {
		return nil, err
	}
	p := &gpuPipeline{}
	p.module, err = d.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "trace_shader",
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("trace: create shader module: %w", err)
	}

	storage := func(binding uint32, t gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: t},
		}
	}
	p.layout, err = d.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "trace_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			storage(0, gputypes.BufferBindingTypeUniform),
			storage(1, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(2, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(3, gputypes.BufferBindingTypeStorage),
			storage(4, gputypes.BufferBindingTypeStorage),
			storage(5, gputypes.BufferBindingTypeStorage),
		},
	})
	if err != nil {
		p.destroy(d)
		return nil, fmt.Errorf("trace: create bind group layout: %w", err)
	}
	p.pipelineLayout, err = d.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "trace_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.layout},
	})
	if err != nil {
		p.destroy(d)
		return nil, fmt.Errorf("trace: create pipeline layout: %w", err)
	}
	p.pipeline, err = d.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "trace_pipeline",
		Layout: p.pipelineLayout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		p.destroy(d)
		return nil, fmt.Errorf("trace: create compute pipeline: %w", err)
	}
	return p, nil
}

func (p *gpuPipeline) destroy(d hal.Device) {
	if p.pipeline != nil {
		d.DestroyComputePipeline(p.pipeline)
	}
	if p.pipelineLayout != nil {
		d.DestroyPipelineLayout(p.pipelineLayout)
	}
	if p.layout != nil {
		d.DestroyBindGroupLayout(p.layout)
	}
	if p.module != nil {
		d.DestroyShaderModule(p.module)
	}
}

// encodeParams lays out the shader's Params uniform.
func encodeParams(w *voxel.World, req Request) []byte {
	s := req.Settings.normalized()
	ext, grid := w.Extent(), w.ChunkGrid()
	buf := make([]byte, paramsSize)
	off := 0
	putF := func(v float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	putU := func(v int) {
		binary.LittleEndian.PutUint32(buf[off:], uint32(v)) //nolint:gosec // sizes and flags fit uint32
		off += 4
	}
	color := func(c [4]uint8) {
		for _, ch := range c {
			putF(float32(ch) / 255)
		}
	}

	inv := req.Camera.InvViewProj(float32(req.Width) / float32(req.Height))
	for _, v := range inv {
		putF(v)
	}
	eye := req.Camera.Eye
	putF(eye[0])
	putF(eye[1])
	putF(eye[2])
	putF(1)
	putF(float32(s.Sun[0]))
	putF(float32(s.Sun[1]))
	putF(float32(s.Sun[2]))
	putF(float32(s.Ambient))
	color([4]uint8{s.SkyHorizon.R, s.SkyHorizon.G, s.SkyHorizon.B, s.SkyHorizon.A})
	color([4]uint8{s.SkyZenith.R, s.SkyZenith.G, s.SkyZenith.B, s.SkyZenith.A})
	putU(ext.X)
	putU(ext.Y)
	putU(ext.Z)
	putU(w.ChunkSize())
	flags := 0
	if s.Shadows {
		flags |= flagShadows
	}
	if s.ShowRaySteps {
		flags |= flagRaySteps
	}
	putU(grid.X)
	putU(grid.Y)
	putU(grid.Z)
	putU(flags)
	putU(req.Width)
	putU(req.Height)
	putU(max(s.MaxSteps, 0))
	putU(0)
	return buf
}

// decodeFrame builds a frame from the color, depth and info planes. Info
// holds the material in bits 0..7, the entry face in bits 8..15 and the
// normal code in bits 16..22.
func decodeFrame(data []byte, req Request) *Frame {
	f := NewFrame(req.Width, req.Height)
	proj := newProjector(req.Camera, req.Width, req.Height)
	f.Seq, f.Epoch = req.Seq, req.Epoch
	n := req.Width * req.Height
	plane := n * 4
	copy(f.Color.Pix, data[:plane])
	for i := range n {
		depth := math.Float32frombits(binary.LittleEndian.Uint32(data[plane+i*4:]))
		if depth >= gpuInfinity {
			depth = float32(math.Inf(1))
		}
		f.Depth[i] = depth
		info := binary.LittleEndian.Uint32(data[2*plane+i*4:])
		f.Material[i] = voxel.Material(info & 0xff)
		if f.Material[i] == voxel.Empty {
			continue
		}
		nrm := decodeNormal(info>>16, func() mgl64.Vec3 { return proj.ray(i%req.Width, i/req.Width).Dir })
		f.Normal[i] = mgl32.Vec3{float32(nrm[0]), float32(nrm[1]), float32(nrm[2])}
	}
	return f
}

// decodeNormal unpacks a normal code written by the shader. Code zero is a
// hit without a usable gradient or entry face; its normal faces back along
// the primary ray.
func decodeNormal(code uint32, dir func() mgl64.Vec3) mgl64.Vec3 {
	code &= 0x7f
	if code&64 == 0 {
		return dir().Mul(-1)
	}
	g := mgl64.Vec3{
		float64(code&3) - 1,
		float64(code>>2&3) - 1,
		float64(code>>4&3) - 1,
	}
	return g.Normalize()
}
