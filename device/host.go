package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Op identifies a device operation for fault injection.
type Op int

const (
	OpCreate Op = iota
	OpUpload
	OpRead
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpload:
		return "upload"
	case OpRead:
		return "read"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// FaultFunc decides whether an operation fails. A non-nil return fails
// the operation with that error.
type FaultFunc func(op Op, label string, size uint64) error

type hostBuffer struct {
	label string
	data  []byte
}

func (b *hostBuffer) Label() string { return b.label }
func (b *hostBuffer) Size() uint64  { return uint64(len(b.data)) }

// HostDevice is a Device whose memory lives on the host.
//
// Uploads complete on a separate goroutine after an optional latency, which
// gives the same ordering hazards as a real queue. A capacity limit and a
// fault hook let tests and demos simulate device memory pressure.
type HostDevice struct {
	mu       sync.Mutex
	name     string
	buffers  map[*hostBuffer]struct{}
	used     uint64
	capacity uint64
	latency  time.Duration
	fault    FaultFunc
	closed   bool
	inflight sync.WaitGroup
}

// HostOption configures a HostDevice.
type HostOption func(*HostDevice)

// WithLatency delays every upload completion by d.
func WithLatency(d time.Duration) HostOption {
	return func(h *HostDevice) { h.latency = d }
}

// WithCapacity limits total buffer memory. 0 means unlimited.
func WithCapacity(bytes uint64) HostOption {
	return func(h *HostDevice) { h.capacity = bytes }
}

// WithFault installs a fault hook.
func WithFault(f FaultFunc) HostOption {
	return func(h *HostDevice) { h.fault = f }
}

// NewHostDevice creates a host-memory device.
func NewHostDevice(opts ...HostOption) *HostDevice {
	h := &HostDevice{
		name:    "host",
		buffers: make(map[*hostBuffer]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetFault replaces the fault hook. Pass nil to remove it.
func (h *HostDevice) SetFault(f FaultFunc) {
	h.mu.Lock()
	h.fault = f
	h.mu.Unlock()
}

// Name implements Device.
func (h *HostDevice) Name() string { return h.name }

// UsedBytes returns the memory held by live buffers.
func (h *HostDevice) UsedBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// BufferCount returns the number of live buffers.
func (h *HostDevice) BufferCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffers)
}

// CreateBuffer implements Device.
func (h *HostDevice) CreateBuffer(label string, size uint64) (Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrDeviceClosed
	}
	if h.fault != nil {
		if err := h.fault(OpCreate, label, size); err != nil {
			return nil, err
		}
	}
	if h.capacity > 0 && h.used+size > h.capacity {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ErrResourceExhausted, label, size, h.used, h.capacity)
	}
	b := &hostBuffer{label: label, data: make([]byte, size)}
	h.buffers[b] = struct{}{}
	h.used += size
	return b, nil
}

// DestroyBuffer implements Device.
func (h *HostDevice) DestroyBuffer(buf Buffer) error {
	b, ok := buf.(*hostBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if !ok {
		return ErrUnknownBuffer
	}
	if _, live := h.buffers[b]; !live {
		return fmt.Errorf("%w: %s", ErrUnknownBuffer, b.label)
	}
	delete(h.buffers, b)
	h.used -= b.Size()
	return nil
}

func (h *HostDevice) lookup(buf Buffer) (*hostBuffer, error) {
	b, ok := buf.(*hostBuffer)
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

// Upload implements Device.
func (h *HostDevice) Upload(buf Buffer, offset uint64, data []byte) *Upload {
	h.mu.Lock()
	b, err := h.lookup(buf)
	if err == nil && offset+uint64(len(data)) > b.Size() {
		err = fmt.Errorf("%w: write of %d bytes at %d overflows %s (%d bytes)",
			ErrResourceExhausted, len(data), offset, b.label, b.Size())
	}
	if err != nil {
		h.mu.Unlock()
		return FailedUpload(err)
	}
	latency, fault := h.latency, h.fault
	h.inflight.Add(1)
	h.mu.Unlock()

	payload := make([]byte, len(data))
	copy(payload, data)
	u := NewUpload(len(payload))

	go func() {
		defer h.inflight.Done()
		if latency > 0 {
			time.Sleep(latency)
		}
		if fault != nil {
			if err := fault(OpUpload, b.label, uint64(len(payload))); err != nil {
				u.Complete(err)
				return
			}
		}
		h.mu.Lock()
		_, live := h.buffers[b]
		if live {
			copy(b.data[offset:], payload)
		}
		h.mu.Unlock()
		if !live {
			u.Complete(fmt.Errorf("%w: %s destroyed before upload completed", ErrUnknownBuffer, b.label))
			return
		}
		u.Complete(nil)
	}()
	return u
}

// ReadBuffer implements Device.
func (h *HostDevice) ReadBuffer(ctx context.Context, buf Buffer, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	b, err := h.lookup(buf)
	if err != nil {
		return err
	}
	if h.fault != nil {
		if err := h.fault(OpRead, b.label, uint64(len(dst))); err != nil {
			return err
		}
	}
	copy(dst, b.data)
	return nil
}

// Close implements Device. It waits for in-flight uploads.
func (h *HostDevice) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.inflight.Wait()

	h.mu.Lock()
	h.buffers = make(map[*hostBuffer]struct{})
	h.used = 0
	h.mu.Unlock()
	return nil
}
