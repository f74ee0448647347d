package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// fenceTimeout bounds every wait on a queue fence.
const fenceTimeout = 5 * time.Second

// HALBuffer is a Buffer backed by a wgpu HAL buffer.
type HALBuffer interface {
	Buffer
	HAL() hal.Buffer
}

type halBuffer struct {
	label string
	size  uint64
	buf   hal.Buffer
}

func (b *halBuffer) Label() string   { return b.label }
func (b *halBuffer) Size() uint64    { return b.size }
func (b *halBuffer) HAL() hal.Buffer { return b.buf }

// HALDevice is a Device on a gogpu/wgpu HAL device and queue.
//
// Queue access is serialized by an internal lock. Other GPU work that shares
// the queue, such as the tracer's compute dispatch, goes through Do.
type HALDevice struct {
	mu       sync.Mutex
	name     string
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	owned    bool
	buffers  map[*halBuffer]struct{}
	closed   bool
	inflight sync.WaitGroup
}

// NewVulkanDevice opens a standalone Vulkan device, preferring a discrete
// or integrated GPU over software adapters.
func NewVulkanDevice() (*HALDevice, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}

	h := NewHALDevice(selected.Info.Name, openDev.Device, openDev.Queue)
	h.instance = instance
	h.owned = true
	slogger().Info("device: GPU initialized (standalone)", "adapter", selected.Info.Name)
	return h, nil
}

// NewHALDevice wraps an existing HAL device and queue. The caller keeps
// ownership: Close releases buffers but does not destroy the device.
func NewHALDevice(name string, device hal.Device, queue hal.Queue) *HALDevice {
	return &HALDevice{
		name:    name,
		device:  device,
		queue:   queue,
		buffers: make(map[*halBuffer]struct{}),
	}
}

// NewHALDeviceFromProvider shares the device of a host application. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func NewHALDeviceFromProvider(provider gpucontext.DeviceProvider) (*HALDevice, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("device: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("device: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("device: provider HalQueue is not hal.Queue")
	}
	slogger().Info("device: using shared GPU device")
	return NewHALDevice("shared", device, queue), nil
}

// Name implements Device.
func (h *HALDevice) Name() string { return h.name }

// Do runs fn with exclusive access to the HAL device and queue.
func (h *HALDevice) Do(fn func(device hal.Device, queue hal.Queue) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrDeviceClosed
	}
	return fn(h.device, h.queue)
}

// CreateBuffer implements Device. Chunk buffers are storage buffers that
// can be copied from and to.
func (h *HALDevice) CreateBuffer(label string, size uint64) (Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrDeviceClosed
	}
	buf, err := h.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create %s (%d bytes): %w", ErrResourceExhausted, label, size, err)
	}
	b := &halBuffer{label: label, size: size, buf: buf}
	h.buffers[b] = struct{}{}
	return b, nil
}

// DestroyBuffer implements Device.
func (h *HALDevice) DestroyBuffer(buf Buffer) error {
	b, ok := buf.(*halBuffer)
	if !ok {
		return ErrUnknownBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.buffers[b]; !live {
		return fmt.Errorf("%w: %s", ErrUnknownBuffer, b.label)
	}
	delete(h.buffers, b)
	if !h.closed {
		h.device.DestroyBuffer(b.buf)
	}
	return nil
}

func (h *HALDevice) lookup(buf Buffer) (*halBuffer, error) {
	b, ok := buf.(*halBuffer)
	if !ok {
		return nil, ErrUnknownBuffer
	}
	if h.closed {
		return nil, ErrDeviceClosed
	}
	if _, live := h.buffers[b]; !live {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuffer, b.label)
	}
	return b, nil
}

// Upload implements Device. The write is queued immediately and completes
// once a fence signaled after it.
func (h *HALDevice) Upload(buf Buffer, offset uint64, data []byte) *Upload {
	h.mu.Lock()
	b, err := h.lookup(buf)
	if err != nil {
		h.mu.Unlock()
		return FailedUpload(err)
	}
	if offset+uint64(len(data)) > b.size {
		h.mu.Unlock()
		return FailedUpload(fmt.Errorf("%w: write of %d bytes at %d overflows %s",
			ErrResourceExhausted, len(data), offset, b.label))
	}
	h.queue.WriteBuffer(b.buf, offset, data)

	fence, err := h.device.CreateFence()
	if err != nil {
		h.mu.Unlock()
		return FailedUpload(fmt.Errorf("create fence: %w", err))
	}
	if err := h.queue.Submit(nil, fence, 1); err != nil {
		h.device.DestroyFence(fence)
		h.mu.Unlock()
		return FailedUpload(fmt.Errorf("submit: %w", err))
	}
	h.inflight.Add(1)
	h.mu.Unlock()

	u := NewUpload(len(data))
	go func() {
		defer h.inflight.Done()
		ok, err := h.device.Wait(fence, 1, fenceTimeout)
		h.device.DestroyFence(fence)
		switch {
		case err != nil:
			u.Complete(fmt.Errorf("wait for GPU: %w", err))
		case !ok:
			u.Complete(fmt.Errorf("wait for GPU: timeout after %s", fenceTimeout))
		default:
			u.Complete(nil)
		}
	}()
	return u
}

// ReadBuffer implements Device by copying through a mappable staging buffer.
func (h *HALDevice) ReadBuffer(ctx context.Context, buf Buffer, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	b, err := h.lookup(buf)
	if err != nil {
		return err
	}
	size := min(uint64(len(dst)), b.size)
	return readBack(h.device, h.queue, b.buf, size, dst)
}

// readBack copies size bytes of src into dst. Callers hold the queue.
func readBack(device hal.Device, queue hal.Queue, src hal.Buffer, size uint64, dst []byte) error {
	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer device.DestroyBuffer(staging)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback_encoder"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("readback"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(src, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ok, err := device.Wait(fence, 1, fenceTimeout)
	if err != nil || !ok {
		return fmt.Errorf("wait for GPU: ok=%v err=%w", ok, err)
	}
	if err := queue.ReadBuffer(staging, 0, dst[:size]); err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	return nil
}

// Close implements Device. Owned devices are destroyed; shared ones are
// left to their owner.
func (h *HALDevice) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.inflight.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for b := range h.buffers {
		h.device.DestroyBuffer(b.buf)
	}
	h.buffers = make(map[*halBuffer]struct{})
	if h.owned {
		h.device.Destroy()
		if h.instance != nil {
			h.instance.Destroy()
		}
	}
	return nil
}
