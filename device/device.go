// Package device mirrors voxel chunks into GPU buffers.
//
// A Device allocates buffers and performs asynchronous uploads. Two devices
// are provided: HostDevice keeps buffer memory on the host and is used for
// tests and headless runs, HALDevice drives a real GPU through
// gogpu/wgpu/hal.
//
// Manager owns one buffer per chunk. It uploads chunks whose dirty flag is
// set, clears the flag once the upload completed, and keeps the chunk dirty
// when allocation or upload fails so that the next frame retries.
package device

import (
	"context"
	"errors"
	"sync"
)

// Errors returned by devices and the buffer manager.
var (
	// ErrResourceExhausted is returned when a buffer cannot be allocated or
	// an upload fails. It is recoverable: the chunk stays dirty and the last
	// successfully uploaded contents keep being rendered.
	ErrResourceExhausted = errors.New("device: resource exhausted")

	// ErrStaleHandle is returned for completions that belong to a released
	// buffer generation or an outdated frame epoch.
	ErrStaleHandle = errors.New("device: stale handle")

	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("device: closed")

	// ErrUnknownBuffer is returned for buffers not owned by the device.
	ErrUnknownBuffer = errors.New("device: unknown buffer")
)

// Buffer is a device allocation.
type Buffer interface {
	Label() string
	Size() uint64
}

// Device allocates buffers and moves bytes between host and device.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Name identifies the device in logs, e.g. the adapter name.
	Name() string

	// CreateBuffer allocates a storage buffer of size bytes.
	CreateBuffer(label string, size uint64) (Buffer, error)

	// DestroyBuffer frees a buffer. Uploads still in flight for it complete
	// with an error.
	DestroyBuffer(buf Buffer) error

	// Upload starts copying data into buf at offset and returns
	// immediately. data may be reused by the caller after Upload returns.
	Upload(buf Buffer, offset uint64, data []byte) *Upload

	// ReadBuffer copies len(dst) bytes from the start of buf into dst and
	// blocks until done.
	ReadBuffer(ctx context.Context, buf Buffer, dst []byte) error

	// Close releases all buffers. Further calls fail with ErrDeviceClosed.
	Close() error
}

// Upload is the completion of an asynchronous buffer write.
type Upload struct {
	done chan struct{}
	once sync.Once
	err  error
	size int
}

// NewUpload returns a pending upload of size bytes. Device implementations
// call Complete exactly when the write is visible to later device work.
func NewUpload(size int) *Upload {
	return &Upload{done: make(chan struct{}), size: size}
}

// FailedUpload returns an upload that already completed with err.
func FailedUpload(err error) *Upload {
	u := NewUpload(0)
	u.Complete(err)
	return u
}

// Complete resolves the upload. Only the first call has an effect.
func (u *Upload) Complete(err error) {
	u.once.Do(func() {
		u.err = err
		close(u.done)
	})
}

// Done is closed when the upload completed.
func (u *Upload) Done() <-chan struct{} { return u.done }

// Size returns the number of bytes written.
func (u *Upload) Size() int { return u.size }

// Wait blocks until the upload completes or ctx is done.
func (u *Upload) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the completion error, or nil while pending.
func (u *Upload) Err() error {
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}
