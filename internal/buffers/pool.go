// Package buffers owns the set of frames registered with the device.
package buffers

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/vimba-capture/device"
)

// DefaultCount is the number of frames kept in flight.
const DefaultCount = 3

// Device is the part of an open camera the pool needs.
type Device interface {
	IntGet(name string) (int64, error)
	Announce(f *device.Frame) error
	Revoke(f *device.Frame) error
}

// Pool is a fixed set of equally sized frames announced to one device.
//
// Frames are handed out by pointer; the pool keeps ownership and frees them
// on Release. Contains lets consumers detect frames from a replaced pool.
type Pool struct {
	dev      Device
	capacity int

	mu       sync.RWMutex
	frames   []*device.Frame
	released bool
}

// Allocate reads PayloadSize, then allocates and announces count frames of
// that size.
//
// On failure the frames announced by this call are revoked before returning,
// so the device is left as it was. Announce failures are *device.ResourceError.
func Allocate(dev Device, count int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("buffers: count must be > 0, got %d", count)
	}

	size, err := dev.IntGet("PayloadSize")
	if err != nil {
		return nil, fmt.Errorf("buffers: read payload size: %w", err)
	}
	if size <= 0 {
		return nil, fmt.Errorf("buffers: invalid payload size %d", size)
	}

	p := &Pool{
		dev:      dev,
		capacity: int(size),
		frames:   make([]*device.Frame, 0, count),
	}

	for slot := 0; slot < count; slot++ {
		f := &device.Frame{Buffer: make([]byte, size), Slot: slot}
		if err := dev.Announce(f); err != nil {
			slog.Error("buffers: announce failed, rolling back",
				"slot", slot,
				"announced", len(p.frames),
				"error", err,
			)
			p.Release()
			return nil, &device.ResourceError{Slot: slot, Err: err}
		}
		p.frames = append(p.frames, f)
	}

	slog.Info("buffers: pool allocated",
		"count", count,
		"frame_bytes", size,
	)

	return p, nil
}

// Release revokes every frame and drops the pool's references. Revoke
// failures are logged; the local memory is released regardless. Safe to call
// multiple times.
func (p *Pool) Release() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return
	}
	p.released = true

	for _, f := range p.frames {
		if err := p.dev.Revoke(f); err != nil {
			slog.Warn("buffers: revoke failed", "slot", f.Slot, "error", err)
		}
	}
	p.frames = nil
}

// Frames returns the announced frames in slot order.
func (p *Pool) Frames() []*device.Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*device.Frame, len(p.frames))
	copy(out, p.frames)
	return out
}

// Len returns the number of frames currently held.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.frames)
}

// Capacity returns the byte size of every frame in the pool.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Contains reports whether f belongs to this pool and the pool is still live.
func (p *Pool) Contains(f *device.Frame) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owns(f)
}

func (p *Pool) owns(f *device.Frame) bool {
	if p.released || f == nil || f.Slot < 0 || f.Slot >= len(p.frames) {
		return false
	}
	return p.frames[f.Slot] == f
}

// Borrow runs fn with f while holding the pool's read lock, so Release cannot
// free the frame mid-copy. It reports false without calling fn when f is not
// owned by this pool.
func (p *Pool) Borrow(f *device.Frame, fn func(*device.Frame)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.owns(f) {
		return false
	}
	fn(f)
	return true
}

// NeedsResize reports whether a frame of payloadSize bytes would not fit.
// An unreadable size (err != nil) counts as needing a resize.
func (p *Pool) NeedsResize(payloadSize int64, err error) bool {
	if err != nil {
		return true
	}
	return payloadSize > int64(p.capacity)
}
