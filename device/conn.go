package device

import (
	"log/slog"
	"sync/atomic"
)

// Conn binds an SDK to one open handle so that callers do not thread the
// handle through every call.
type Conn struct {
	sdk    SDK
	handle Handle
	id     string
	closed atomic.Bool
}

// Open opens camera id through sdk. Failures are reported as *OpenError.
func Open(sdk SDK, id string) (*Conn, error) {
	h, err := sdk.Open(id)
	if err != nil {
		return nil, &OpenError{CameraID: id, Err: err}
	}

	slog.Info("device: camera opened", "camera_id", id, "handle", h)

	return &Conn{sdk: sdk, handle: h, id: id}, nil
}

// Handle returns the bound handle
func (c *Conn) Handle() Handle { return c.handle }

// CameraID returns the id the connection was opened with
func (c *Conn) CameraID() string { return c.id }

// Close releases the handle. Safe to call multiple times.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("device: closing camera", "camera_id", c.id, "handle", c.handle)
	return c.sdk.Close(c.handle)
}

func (c *Conn) IntGet(name string) (int64, error)     { return c.sdk.IntGet(c.handle, name) }
func (c *Conn) IntSet(name string, v int64) error     { return c.sdk.IntSet(c.handle, name, v) }
func (c *Conn) FloatGet(name string) (float64, error) { return c.sdk.FloatGet(c.handle, name) }
func (c *Conn) FloatSet(name string, v float64) error { return c.sdk.FloatSet(c.handle, name, v) }
func (c *Conn) EnumGet(name string) (string, error)   { return c.sdk.EnumGet(c.handle, name) }
func (c *Conn) EnumSet(name string, v string) error   { return c.sdk.EnumSet(c.handle, name, v) }
func (c *Conn) EnumRange(name string) ([]string, error) {
	return c.sdk.EnumRange(c.handle, name)
}
func (c *Conn) StringGet(name string) (string, error)  { return c.sdk.StringGet(c.handle, name) }
func (c *Conn) CommandRun(name string) error           { return c.sdk.CommandRun(c.handle, name) }
func (c *Conn) CommandIsDone(name string) (bool, error) { return c.sdk.CommandIsDone(c.handle, name) }

func (c *Conn) Announce(f *Frame) error { return c.sdk.Announce(c.handle, f) }
func (c *Conn) Revoke(f *Frame) error   { return c.sdk.Revoke(c.handle, f) }

func (c *Conn) CaptureStart() error      { return c.sdk.CaptureStart(c.handle) }
func (c *Conn) CaptureEnd() error        { return c.sdk.CaptureEnd(c.handle) }
func (c *Conn) CaptureQueueFlush() error { return c.sdk.CaptureQueueFlush(c.handle) }
func (c *Conn) CaptureFrameQueue(f *Frame, cb FrameCallback) error {
	return c.sdk.CaptureFrameQueue(c.handle, f, cb)
}
