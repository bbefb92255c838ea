package pull

import (
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/vimba-capture/device"
	"github.com/e7canasta/vimba-capture/internal/acquisition"
	"github.com/e7canasta/vimba-capture/internal/completion"
	"github.com/e7canasta/vimba-capture/settings"
)

type fakePool struct {
	owned map[*device.Frame]bool
	// inBorrow is true while a copy is in progress.
	inBorrow bool
}

func (p *fakePool) Contains(f *device.Frame) bool { return p.owned[f] }

func (p *fakePool) Borrow(f *device.Frame, fn func(*device.Frame)) bool {
	if !p.owned[f] {
		return false
	}
	p.inBorrow = true
	fn(f)
	p.inBorrow = false
	return true
}

type fakeCtrl struct {
	pool        *fakePool
	resubmitted []*device.Frame
	err         error
	duringCopy  bool
	// earlier marks frames filled before the last restart.
	earlier map[*device.Frame]bool
}

func (c *fakeCtrl) Current(f *device.Frame) bool { return !c.earlier[f] }

func (c *fakeCtrl) Resubmit(f *device.Frame) error {
	if c.pool.inBorrow {
		c.duringCopy = true
	}
	c.resubmitted = append(c.resubmitted, f)
	return c.err
}

func frame(id uint64, status device.FrameStatus, filled int) *device.Frame {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = byte(id)
	}
	return &device.Frame{Buffer: buf, Filled: filled, Status: status, ID: id, Width: 4, Height: 4}
}

func setup(frames ...*device.Frame) (*Adapter, *completion.Queue, *fakePool, *fakeCtrl) {
	q := completion.NewQueue()
	pool := &fakePool{owned: map[*device.Frame]bool{}}
	for _, f := range frames {
		pool.owned[f] = true
	}
	ctrl := &fakeCtrl{pool: pool}
	a := New(q, 5*time.Millisecond)
	a.Bind(pool, ctrl)
	return a, q, pool, ctrl
}

func always() bool { return true }

func TestCompleteFrameCopiedAndResubmittedAfterCopy(t *testing.T) {
	f := frame(7, device.StatusComplete, 16)
	a, q, _, ctrl := setup(f)
	q.Push(f)

	out, err := a.Next(settings.PolicyDrop, always)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}

	if len(out.Data) != 16 || out.FrameID != 7 || out.Incomplete {
		t.Errorf("unexpected output %+v", out)
	}
	if &out.Data[0] == &f.Buffer[0] {
		t.Error("output must not alias the device buffer")
	}
	if out.TraceID == "" {
		t.Error("expected trace id")
	}
	if len(ctrl.resubmitted) != 1 || ctrl.resubmitted[0] != f {
		t.Errorf("expected exactly one resubmission of the frame")
	}
	if ctrl.duringCopy {
		t.Error("frame resubmitted before the copy finished")
	}

	f.Buffer[0] = 0xFF
	if out.Data[0] == 0xFF {
		t.Error("output changed when the device reused the buffer")
	}
}

func TestIncompletePolicies(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		bad := frame(1, device.StatusIncomplete, 8)
		good := frame(2, device.StatusComplete, 16)
		a, q, _, ctrl := setup(bad, good)
		q.Push(bad)
		q.Push(good)

		out, err := a.Next(settings.PolicyDrop, always)
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if out.FrameID != 2 {
			t.Errorf("expected incomplete frame to be skipped, got frame %d", out.FrameID)
		}
		if len(ctrl.resubmitted) != 2 || ctrl.resubmitted[0] != bad {
			t.Errorf("dropped frame must be resubmitted first")
		}
		stats := a.Stats()
		if stats.IncompleteDropped != 1 || stats.FramesProduced != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("submit", func(t *testing.T) {
		bad := frame(3, device.StatusIncomplete, 8)
		a, q, _, _ := setup(bad)
		q.Push(bad)

		out, err := a.Next(settings.PolicySubmit, always)
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if !out.Incomplete || len(out.Data) != 8 {
			t.Errorf("expected truncated 8-byte incomplete output, got %d bytes incomplete=%v",
				len(out.Data), out.Incomplete)
		}
		if a.Stats().IncompleteSubmitted != 1 {
			t.Errorf("unexpected stats %+v", a.Stats())
		}
	})
}

func TestResubmitFailureStillReturnsFrame(t *testing.T) {
	f := frame(9, device.StatusComplete, 16)
	a, q, _, ctrl := setup(f)
	ctrl.err = &device.Error{Code: device.CodeInvalidCall}
	q.Push(f)

	out, err := a.Next(settings.PolicyDrop, always)
	if err != nil || out == nil {
		t.Fatalf("frame must still be produced, got %v %v", out, err)
	}
	if a.Stats().ResubmitFailures != 1 {
		t.Errorf("expected 1 resubmit failure, got %+v", a.Stats())
	}
}

func TestResubmitAfterStopIsNotAFailure(t *testing.T) {
	f := frame(9, device.StatusComplete, 16)
	a, q, _, ctrl := setup(f)
	ctrl.err = acquisition.ErrNotStreaming
	q.Push(f)

	if _, err := a.Next(settings.PolicyDrop, always); err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if a.Stats().ResubmitFailures != 0 {
		t.Errorf("stopped session must not count as resubmit failure")
	}
}

func TestStaleFramesDiscarded(t *testing.T) {
	stale := frame(1, device.StatusComplete, 16)
	fresh := frame(2, device.StatusComplete, 16)
	a, q, _, ctrl := setup(fresh)
	q.Push(stale)
	q.Push(fresh)

	out, err := a.Next(settings.PolicyDrop, always)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if out.FrameID != 2 {
		t.Errorf("expected fresh frame, got %d", out.FrameID)
	}
	for _, r := range ctrl.resubmitted {
		if r == stale {
			t.Error("stale frame must never be resubmitted")
		}
	}
	if a.Stats().StaleDiscarded != 1 {
		t.Errorf("unexpected stats %+v", a.Stats())
	}
}

func TestFrameFromEarlierRunRecycledOnce(t *testing.T) {
	old := frame(3, device.StatusComplete, 16)
	fresh := frame(4, device.StatusComplete, 16)
	a, q, _, ctrl := setup(old, fresh)
	ctrl.earlier = map[*device.Frame]bool{old: true}
	q.Push(old)
	q.Push(fresh)

	out, err := a.Next(settings.PolicyDrop, always)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if out.FrameID != 4 {
		t.Errorf("expected the frame of the current run, got %d", out.FrameID)
	}

	// old goes back to the device once, without output; fresh after its copy
	if len(ctrl.resubmitted) != 2 || ctrl.resubmitted[0] != old || ctrl.resubmitted[1] != fresh {
		t.Errorf("unexpected resubmissions %v", ctrl.resubmitted)
	}
	if a.Stats().StaleDiscarded != 1 || a.Stats().FramesProduced != 1 {
		t.Errorf("unexpected stats %+v", a.Stats())
	}
}

func TestFlushingWhenNotAlive(t *testing.T) {
	a, _, _, _ := setup()

	deadline := time.Now().Add(30 * time.Millisecond)
	alive := func() bool { return time.Now().Before(deadline) }

	_, err := a.Next(settings.PolicyDrop, alive)
	if !errors.Is(err, device.ErrFlushing) {
		t.Errorf("expected ErrFlushing, got %v", err)
	}
}
