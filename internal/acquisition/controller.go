// Package acquisition drives the capture engine and the device acquisition
// commands through a small state machine.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/vimba-capture/device"
)

// State is the acquisition lifecycle state.
type State int

const (
	// Idle: capture engine stopped, no frame queued to the device.
	Idle State = iota
	// Configuring: features are being written; acquisition must not start.
	Configuring
	// Armed: capture engine started and every frame queued, device not acquiring.
	Armed
	// Running: the device confirmed AcquisitionStart.
	Running
	// Stopping: teardown in progress.
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Capture is the capture-engine surface of an open camera (device.Conn).
type Capture interface {
	CaptureStart() error
	CaptureEnd() error
	CaptureQueueFlush() error
	CaptureFrameQueue(f *device.Frame, cb device.FrameCallback) error
}

// Commander runs a command feature and waits for completion (feature.Gateway).
type Commander interface {
	RunCommand(ctx context.Context, name string) error
}

// ErrNotStreaming is returned by Resubmit outside Armed/Running.
var ErrNotStreaming = errors.New("acquisition: not streaming")

// ErrForeignFrame is returned by Resubmit for a frame of a pool that was not
// armed by this controller (replaced after a reallocation).
var ErrForeignFrame = errors.New("acquisition: frame not in the armed pool")

// ErrAlreadyQueued is returned by Resubmit for a frame the device still owns.
var ErrAlreadyQueued = errors.New("acquisition: frame already queued")

// owner says which side may touch a frame.
type owner int

const (
	ownerFree   owner = iota // neither side; next Arm queues it
	ownerDevice              // queued for filling
	ownerHost                // filled, waiting in the completion queue or being copied

	ownerNone owner = -1 // not part of the armed set
)

type slot struct {
	owner  owner
	epoch  uint64 // run that filled the frame (ownerHost only)
	ticket uint64 // queueing the device owns it under (ownerDevice only)
}

// Controller owns the acquisition state of one open camera.
//
// Besides the state machine it tracks the owner of every armed frame. A
// frame is queued to the device only from ownerFree or ownerHost, so a frame
// the host still holds is never refilled and never queued twice. Each
// teardown starts a new epoch; completions filled before it are not Current.
type Controller struct {
	dev      Capture
	cmd      Commander
	callback device.FrameCallback

	mu        sync.Mutex
	state     State
	capturing bool
	requested bool // AcquisitionStart was issued (even if not confirmed)

	own     sync.Mutex // guards frames, epoch and tickets; taken by the device callback
	frames  map[*device.Frame]slot
	epoch   uint64
	tickets uint64
}

// New creates an Idle controller. cb receives every completion of a frame
// the device owns.
func New(dev Capture, cmd Commander, cb device.FrameCallback) *Controller {
	return &Controller{dev: dev, cmd: cmd, callback: cb, frames: make(map[*device.Frame]slot)}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginConfigure marks the configuration window. Only valid from Idle.
func (c *Controller) BeginConfigure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("acquisition: cannot configure while %s", c.state)
	}
	c.state = Configuring
	return nil
}

// EndConfigure closes the configuration window.
func (c *Controller) EndConfigure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Configuring {
		c.state = Idle
	}
}

// Arm starts the capture engine and queues every frame the host does not hold.
//
// This method:
//  1. Adopts frames as the armed set, keeping the host's claim on frames it
//     still holds from the previous run
//  2. Starts the capture engine
//  3. Queues each free frame with the completion callback, in order
//  4. Moves to Armed
//
// Held frames reach the device later through Resubmit. If queueing fails the
// frames queued so far stay queued and the controller is Armed with a short
// fill queue; the caller decides whether to Stop.
func (c *Controller) Arm(frames []*device.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle && c.state != Configuring {
		return fmt.Errorf("acquisition: cannot arm while %s", c.state)
	}

	c.own.Lock()
	next := make(map[*device.Frame]slot, len(frames))
	for _, f := range frames {
		if st, ok := c.frames[f]; ok && st.owner == ownerHost {
			next[f] = st
			continue
		}
		next[f] = slot{}
	}
	c.frames = next
	c.own.Unlock()

	if err := c.dev.CaptureStart(); err != nil {
		c.state = Idle
		return fmt.Errorf("acquisition: capture start: %w", err)
	}
	c.capturing = true
	c.state = Armed

	held := 0
	for _, f := range frames {
		if c.ownerOf(f) == ownerHost {
			held++
			continue
		}
		if err := c.queue(f); err != nil {
			slog.Error("acquisition: queue frame failed", "slot", f.Slot, "error", err)
			return fmt.Errorf("acquisition: queue frame %d: %w", f.Slot, err)
		}
	}

	slog.Debug("acquisition: armed", "frames", len(frames), "held_by_host", held)
	return nil
}

// Start issues AcquisitionStart and waits for the device to confirm it.
// The controller moves to Running only after confirmation; on failure it
// stays Armed and the caller is expected to Stop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Armed {
		return fmt.Errorf("acquisition: cannot start while %s", c.state)
	}

	c.requested = true
	if err := c.cmd.RunCommand(ctx, "AcquisitionStart"); err != nil {
		return fmt.Errorf("acquisition: start: %w", err)
	}

	c.state = Running
	slog.Info("acquisition: running")
	return nil
}

// Stop tears acquisition down. Safe to call in any state and multiple times.
//
// This method:
//  1. Issues AcquisitionStop if AcquisitionStart was ever issued
//  2. Ends the capture engine
//  3. Flushes the fill queue and reclaims the frames the device owned
//  4. Starts a new epoch
//
// Every step runs even if an earlier one fails; the controller always ends
// Idle and the first error is returned. Frames the host holds stay held.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle {
		return nil
	}
	if c.state == Configuring {
		c.state = Idle
		return nil
	}

	prev := c.state
	c.state = Stopping

	var first error
	if c.requested {
		if err := c.cmd.RunCommand(ctx, "AcquisitionStop"); err != nil {
			slog.Warn("acquisition: stop command failed", "error", err)
			first = fmt.Errorf("acquisition: stop: %w", err)
		}
		c.requested = false
	}

	if err := c.teardown(); err != nil && first == nil {
		first = err
	}

	slog.Info("acquisition: stopped", "from", prev.String())
	return first
}

// teardown ends the capture engine, flushes the fill queue and moves to
// Idle. Caller holds c.mu.
func (c *Controller) teardown() error {
	var first error
	if c.capturing {
		if err := c.dev.CaptureEnd(); err != nil {
			slog.Warn("acquisition: capture end failed", "error", err)
			first = fmt.Errorf("acquisition: capture end: %w", err)
		}
		c.capturing = false
	}
	if err := c.dev.CaptureQueueFlush(); err != nil {
		slog.Warn("acquisition: queue flush failed", "error", err)
		if first == nil {
			first = fmt.Errorf("acquisition: queue flush: %w", err)
		}
	}

	// Taking own also waits for a completion callback still in progress.
	c.own.Lock()
	c.epoch++
	for f, st := range c.frames {
		if st.owner == ownerDevice {
			c.frames[f] = slot{}
		}
	}
	c.own.Unlock()

	c.state = Idle
	return first
}

// Resubmit hands a consumed frame back to the device for filling.
//
// Outside Armed/Running the frame is released to the controller instead and
// ErrNotStreaming is returned; the next Arm queues it. A frame of another
// pool yields ErrForeignFrame, a frame the device already owns
// ErrAlreadyQueued.
func (c *Controller) Resubmit(f *device.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.ownerOf(f) {
	case ownerNone:
		return ErrForeignFrame
	case ownerDevice:
		return fmt.Errorf("acquisition: resubmit frame %d: %w", f.Slot, ErrAlreadyQueued)
	}

	if c.state != Armed && c.state != Running {
		c.setOwner(f, ownerFree)
		return ErrNotStreaming
	}
	if err := c.queue(f); err != nil {
		return fmt.Errorf("acquisition: resubmit frame %d: %w", f.Slot, err)
	}
	return nil
}

// Current reports whether f is held by the host and was filled since the
// last teardown.
func (c *Controller) Current(f *device.Frame) bool {
	c.own.Lock()
	defer c.own.Unlock()
	st, ok := c.frames[f]
	return ok && st.owner == ownerHost && st.epoch == c.epoch
}

// Queued returns how many armed frames the device owns.
func (c *Controller) Queued() int {
	c.own.Lock()
	defer c.own.Unlock()
	n := 0
	for _, st := range c.frames {
		if st.owner == ownerDevice {
			n++
		}
	}
	return n
}

// queue hands f to the device. Caller holds c.mu.
//
// Each queueing gets its own ticket so that a completion delivered late for
// an earlier queueing of the same frame is not taken for this one.
func (c *Controller) queue(f *device.Frame) error {
	c.own.Lock()
	c.tickets++
	ticket := c.tickets
	// Marked first: the completion may fire before CaptureFrameQueue returns.
	c.frames[f] = slot{owner: ownerDevice, ticket: ticket}
	c.own.Unlock()

	cb := func(h device.Handle, f *device.Frame) { c.complete(h, f, ticket) }
	if err := c.dev.CaptureFrameQueue(f, cb); err != nil {
		c.setOwner(f, ownerFree)
		return err
	}
	return nil
}

// complete handles the completion of the queueing identified by ticket.
// Completions of frames the device no longer owns under that ticket
// (reclaimed by a flush, or queued again since) are ignored.
func (c *Controller) complete(h device.Handle, f *device.Frame, ticket uint64) {
	c.own.Lock()
	defer c.own.Unlock()

	st, ok := c.frames[f]
	if !ok || st.owner != ownerDevice || st.ticket != ticket {
		slog.Debug("acquisition: completion for reclaimed frame ignored", "slot", f.Slot, "frame_id", f.ID)
		return
	}
	c.frames[f] = slot{owner: ownerHost, epoch: c.epoch}
	c.callback(h, f)
}

// ownerOf returns the owner of f, or ownerNone if f is not armed.
func (c *Controller) ownerOf(f *device.Frame) owner {
	c.own.Lock()
	defer c.own.Unlock()
	st, ok := c.frames[f]
	if !ok {
		return ownerNone
	}
	return st.owner
}

func (c *Controller) setOwner(f *device.Frame, o owner) {
	c.own.Lock()
	c.frames[f] = slot{owner: o}
	c.own.Unlock()
}
