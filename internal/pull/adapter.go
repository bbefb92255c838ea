// Package pull turns device completions into owned output frames, one copy
// per frame.
package pull

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/vimba-capture/device"
	"github.com/e7canasta/vimba-capture/internal/acquisition"
	"github.com/e7canasta/vimba-capture/internal/completion"
	"github.com/e7canasta/vimba-capture/settings"
)

// Output is a frame copied out of a device buffer. Data is owned by the caller.
type Output struct {
	Data       []byte
	FrameID    uint64
	Timestamp  uint64
	Width      int
	Height     int
	OffsetX    int
	OffsetY    int
	Incomplete bool
	TraceID    string
}

// Pool is the ownership view of the current buffer pool (buffers.Pool).
type Pool interface {
	Contains(f *device.Frame) bool
	Borrow(f *device.Frame, fn func(*device.Frame)) bool
}

// Resubmitter hands a frame back to the device (acquisition.Controller).
type Resubmitter interface {
	Resubmit(f *device.Frame) error
	// Current reports whether f was filled by the running acquisition.
	Current(f *device.Frame) bool
}

type binding struct {
	pool Pool
	ctrl Resubmitter
}

// Stats are cumulative pull counters.
type Stats struct {
	FramesProduced      uint64 `json:"frames_produced"`
	BytesCopied         uint64 `json:"bytes_copied"`
	IncompleteDropped   uint64 `json:"incomplete_dropped"`
	IncompleteSubmitted uint64 `json:"incomplete_submitted"`
	ResubmitFailures    uint64 `json:"resubmit_failures"`
	StaleDiscarded      uint64 `json:"stale_discarded"`
}

// Adapter pulls from a completion queue on behalf of the host.
type Adapter struct {
	queue    *completion.Queue
	interval time.Duration
	current  atomic.Pointer[binding]

	framesProduced      uint64 // atomic
	bytesCopied         uint64 // atomic
	incompleteDropped   uint64 // atomic
	incompleteSubmitted uint64 // atomic
	resubmitFailures    uint64 // atomic
	staleDiscarded      uint64 // atomic
}

// New creates an adapter over q that re-checks liveness every interval.
func New(q *completion.Queue, interval time.Duration) *Adapter {
	return &Adapter{queue: q, interval: interval}
}

// Bind makes pool and ctrl the current ownership and resubmission targets.
// Frames that pool does not contain are discarded from then on.
func (a *Adapter) Bind(pool Pool, ctrl Resubmitter) {
	a.current.Store(&binding{pool: pool, ctrl: ctrl})
}

// Unbind discards every frame until the next Bind.
func (a *Adapter) Unbind() {
	a.current.Store(nil)
}

// Next blocks until a frame can be produced or alive reports false.
//
// This method:
//  1. Pops the oldest completion, re-checking alive every interval
//  2. Discards frames that belong to a replaced pool
//  3. Resubmits frames filled before a restart without output
//  4. Resubmits incomplete frames without output under PolicyDrop
//  5. Copies exactly the filled bytes into a fresh buffer
//  6. Resubmits the frame, strictly after the copy
//
// A failed resubmission is logged and counted; the copied frame is still
// returned. Returns device.ErrFlushing once alive reports false.
func (a *Adapter) Next(policy settings.IncompletePolicy, alive func() bool) (*Output, error) {
	for {
		f, ok := a.queue.Pop(a.interval, alive)
		if !ok {
			return nil, device.ErrFlushing
		}

		b := a.current.Load()
		if b == nil || !b.pool.Contains(f) {
			atomic.AddUint64(&a.staleDiscarded, 1)
			slog.Debug("pull: discarding frame from replaced pool", "frame_id", f.ID, "slot", f.Slot)
			continue
		}

		if !b.ctrl.Current(f) {
			atomic.AddUint64(&a.staleDiscarded, 1)
			slog.Debug("pull: recycling frame filled before restart", "frame_id", f.ID, "slot", f.Slot)
			a.resubmit(b, f)
			continue
		}

		incomplete := f.Status == device.StatusIncomplete
		if incomplete && policy != settings.PolicySubmit {
			atomic.AddUint64(&a.incompleteDropped, 1)
			slog.Debug("pull: dropping incomplete frame",
				"frame_id", f.ID,
				"filled", f.Filled,
				"capacity", f.Capacity(),
			)
			a.resubmit(b, f)
			continue
		}

		var out *Output
		if !b.pool.Borrow(f, func(f *device.Frame) { out = copyOut(f) }) {
			atomic.AddUint64(&a.staleDiscarded, 1)
			continue
		}
		out.Incomplete = incomplete

		a.resubmit(b, f)

		atomic.AddUint64(&a.framesProduced, 1)
		atomic.AddUint64(&a.bytesCopied, uint64(len(out.Data)))
		if incomplete {
			atomic.AddUint64(&a.incompleteSubmitted, 1)
		}

		slog.Debug("pull: frame produced",
			"frame_id", out.FrameID,
			"size_bytes", len(out.Data),
			"incomplete", incomplete,
			"trace_id", out.TraceID,
		)
		return out, nil
	}
}

func copyOut(f *device.Frame) *Output {
	payload := f.Payload()
	data := make([]byte, len(payload))
	copy(data, payload)

	return &Output{
		Data:      data,
		FrameID:   f.ID,
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
		OffsetX:   f.OffsetX,
		OffsetY:   f.OffsetY,
		TraceID:   uuid.New().String(),
	}
}

func (a *Adapter) resubmit(b *binding, f *device.Frame) {
	err := b.ctrl.Resubmit(f)
	if errors.Is(err, acquisition.ErrNotStreaming) || errors.Is(err, acquisition.ErrForeignFrame) {
		slog.Debug("pull: session stopped, frame not resubmitted", "frame_id", f.ID)
		return
	}
	if err != nil {
		atomic.AddUint64(&a.resubmitFailures, 1)
		slog.Warn("pull: resubmit failed", "frame_id", f.ID, "slot", f.Slot, "error", err)
	}
}

// Stats returns a snapshot of the counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		FramesProduced:      atomic.LoadUint64(&a.framesProduced),
		BytesCopied:         atomic.LoadUint64(&a.bytesCopied),
		IncompleteDropped:   atomic.LoadUint64(&a.incompleteDropped),
		IncompleteSubmitted: atomic.LoadUint64(&a.incompleteSubmitted),
		ResubmitFailures:    atomic.LoadUint64(&a.resubmitFailures),
		StaleDiscarded:      atomic.LoadUint64(&a.staleDiscarded),
	}
}
