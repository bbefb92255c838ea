// Package device describes the camera SDK capability surface consumed by the
// acquisition pipeline.
//
// The SDK itself (driver, transport layer, GenICam node map) is an external
// collaborator. Implementations bind a vendor library (or a simulator) to the
// SDK interface; everything above this package only talks to SDK and Conn.
package device

import "fmt"

// Handle identifies an open camera connection. It is owned by the session that
// opened it and becomes invalid after Close.
type Handle uint64

// FrameStatus is the completion state reported by the device for a filled frame.
type FrameStatus int

const (
	// StatusPending means the frame is announced or queued but not yet filled.
	StatusPending FrameStatus = iota
	// StatusComplete means the device transferred the full payload.
	StatusComplete
	// StatusIncomplete means fewer bytes than the payload size arrived.
	StatusIncomplete
)

// String returns a human-readable representation of the status
func (s FrameStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusIncomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Frame is a fixed-capacity buffer registered with the device.
//
// Ownership alternates between the buffer pool (idle or being filled), the
// completion queue (in transit) and the pull adapter (during copy-out). The
// device writes Buffer, Filled, Status, ID and the geometry fields; Slot is
// set by the pool and never touched by the device.
type Frame struct {
	// Buffer is the device-sized memory region (len == capacity).
	Buffer []byte
	// Filled is the number of valid bytes written by the last fill.
	Filled int
	// Status is the completion status of the last fill.
	Status FrameStatus
	// ID is the monotonic frame identifier assigned by the device.
	ID uint64
	// Timestamp is the device timestamp in ticks.
	Timestamp uint64
	// Width, Height, OffsetX and OffsetY describe the image written.
	Width   int
	Height  int
	OffsetX int
	OffsetY int
	// Slot is the index of this frame inside its pool.
	Slot int
}

// Capacity returns the size of the underlying buffer
func (f *Frame) Capacity() int {
	return len(f.Buffer)
}

// Payload returns the valid portion of the buffer, clamped to capacity.
func (f *Frame) Payload() []byte {
	n := f.Filled
	if n < 0 {
		n = 0
	}
	if n > len(f.Buffer) {
		n = len(f.Buffer)
	}
	return f.Buffer[:n]
}

// FrameCallback is invoked by the device on its own thread once per filled
// frame. The SDK passes no user context, only the handle and the frame.
type FrameCallback func(h Handle, f *Frame)

// Features is the named-feature part of the SDK.
type Features interface {
	IntGet(h Handle, name string) (int64, error)
	IntSet(h Handle, name string, v int64) error
	FloatGet(h Handle, name string) (float64, error)
	FloatSet(h Handle, name string, v float64) error
	EnumGet(h Handle, name string) (string, error)
	EnumSet(h Handle, name string, v string) error
	EnumRange(h Handle, name string) ([]string, error)
	StringGet(h Handle, name string) (string, error)
	CommandRun(h Handle, name string) error
	CommandIsDone(h Handle, name string) (bool, error)
}

// Buffers is the announce/revoke part of the SDK.
type Buffers interface {
	Announce(h Handle, f *Frame) error
	Revoke(h Handle, f *Frame) error
}

// Capture is the capture-engine part of the SDK.
type Capture interface {
	CaptureStart(h Handle) error
	CaptureEnd(h Handle) error
	CaptureQueueFlush(h Handle) error
	CaptureFrameQueue(h Handle, f *Frame, cb FrameCallback) error
}

// SDK is the complete capability surface of a camera SDK.
//
// Calls other than the completion callback are synchronous. Control calls for
// one handle are serialised by the session; requeueing a consumed frame runs
// on the consumer goroutine and may overlap feature reads, so implementations
// must tolerate that pair.
type SDK interface {
	Open(id string) (Handle, error)
	Close(h Handle) error
	Features
	Buffers
	Capture
}
