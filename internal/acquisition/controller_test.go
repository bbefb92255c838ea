package acquisition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/vimba-capture/device"
	"github.com/e7canasta/vimba-capture/internal/buffers"
	"github.com/e7canasta/vimba-capture/internal/feature"
	"github.com/e7canasta/vimba-capture/internal/simcam"
)

type rig struct {
	sdk   *simcam.SDK
	conn  *device.Conn
	pool  *buffers.Pool
	ctrl  *Controller
	fills []*device.Frame
}

func newRig(t *testing.T, cfg simcam.Config) *rig {
	t.Helper()
	r := &rig{sdk: simcam.New()}
	r.sdk.Add("cam0", cfg)

	conn, err := device.Open(r.sdk, "cam0")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	r.conn = conn

	pool, err := buffers.Allocate(conn, 3)
	if err != nil {
		t.Fatalf("Allocate() failed: %v", err)
	}
	r.pool = pool

	gw := feature.New(conn, feature.CommandConfig{Timeout: 200 * time.Millisecond})
	r.ctrl = New(conn, gw, func(_ device.Handle, f *device.Frame) { r.fills = append(r.fills, f) })

	t.Cleanup(func() {
		_ = r.ctrl.Stop(context.Background())
		pool.Release()
		_ = conn.Close()
	})
	return r
}

func TestLifecycle(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 16, SensorHeight: 16})
	ctx := context.Background()

	if r.ctrl.State() != Idle {
		t.Fatalf("expected idle, got %s", r.ctrl.State())
	}

	if err := r.ctrl.Arm(r.pool.Frames()); err != nil {
		t.Fatalf("Arm() failed: %v", err)
	}
	if r.ctrl.State() != Armed || r.sdk.Queued("cam0") != 3 {
		t.Errorf("expected armed with 3 queued, got %s with %d", r.ctrl.State(), r.sdk.Queued("cam0"))
	}

	if err := r.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if r.ctrl.State() != Running || !r.sdk.Acquiring("cam0") {
		t.Errorf("expected running and acquiring")
	}

	if !r.sdk.Fill("cam0", device.StatusComplete) || len(r.fills) != 1 {
		t.Fatal("expected a completion through the registered callback")
	}
	if err := r.ctrl.Resubmit(r.fills[0]); err != nil {
		t.Errorf("Resubmit() failed: %v", err)
	}

	if err := r.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if r.ctrl.State() != Idle || r.sdk.Acquiring("cam0") || r.sdk.Capturing("cam0") || r.sdk.Queued("cam0") != 0 {
		t.Errorf("expected full teardown after stop")
	}

	if err := r.ctrl.Stop(ctx); err != nil {
		t.Errorf("second Stop() must be a no-op, got %v", err)
	}
	if err := r.ctrl.Resubmit(r.fills[0]); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("expected ErrNotStreaming after stop, got %v", err)
	}
}

func TestStartRequiresConfirmation(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 8, SensorHeight: 8, CommandLatency: time.Hour})

	if err := r.ctrl.Arm(r.pool.Frames()); err != nil {
		t.Fatalf("Arm() failed: %v", err)
	}

	err := r.ctrl.Start(context.Background())
	var te *device.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if r.ctrl.State() != Armed {
		t.Errorf("must not be running without confirmation, got %s", r.ctrl.State())
	}

	// AcquisitionStop has the same latency, so Stop reports the timeout but
	// still tears down.
	if err := r.ctrl.Stop(context.Background()); err == nil {
		t.Error("expected stop command timeout to be reported")
	}
	if r.ctrl.State() != Idle || r.sdk.Capturing("cam0") {
		t.Error("stop must always reach idle")
	}
}

func TestArmFailsFast(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 8, SensorHeight: 8})

	frames := r.pool.Frames()
	foreign := &device.Frame{Buffer: make([]byte, 64), Slot: 9}
	frames = append(frames[:1], foreign, frames[1])

	if err := r.ctrl.Arm(frames); err == nil {
		t.Fatal("expected arm to fail on unannounced frame")
	}

	// Frames queued before the failure stay queued; teardown is the caller's
	if r.ctrl.State() != Armed || !r.sdk.Capturing("cam0") || r.sdk.Queued("cam0") != 1 {
		t.Errorf("expected armed with 1 queued, got %s with %d", r.ctrl.State(), r.sdk.Queued("cam0"))
	}

	if err := r.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if r.ctrl.State() != Idle || r.sdk.Capturing("cam0") || r.sdk.Queued("cam0") != 0 {
		t.Error("stop after a failed arm must leave the device idle")
	}
}

func TestArmSkipsFramesHeldByHost(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 8, SensorHeight: 8})
	ctx := context.Background()

	if err := r.ctrl.Arm(r.pool.Frames()); err != nil {
		t.Fatalf("Arm() failed: %v", err)
	}
	if err := r.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !r.sdk.Fill("cam0", device.StatusComplete) {
		t.Fatal("expected a fill")
	}
	held := r.fills[0]
	if !r.ctrl.Current(held) {
		t.Error("frame filled by the running acquisition must be current")
	}

	// Halt and restart while the host still holds the frame
	if err := r.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if r.ctrl.Current(held) {
		t.Error("frame filled before the stop must not be current")
	}
	if err := r.ctrl.Arm(r.pool.Frames()); err != nil {
		t.Fatalf("re-Arm() failed: %v", err)
	}
	if err := r.ctrl.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	if r.sdk.IsQueued("cam0", held) || r.sdk.Queued("cam0") != 2 || r.ctrl.Queued() != 2 {
		t.Fatalf("held frame must not be armed: device queued %d", r.sdk.Queued("cam0"))
	}
	id := held.ID
	r.sdk.Fill("cam0", device.StatusComplete)
	if held.ID != id {
		t.Fatalf("held frame refilled: id %d -> %d", id, held.ID)
	}

	// Returned once by the host, refused the second time
	if err := r.ctrl.Resubmit(held); err != nil {
		t.Fatalf("Resubmit() failed: %v", err)
	}
	if err := r.ctrl.Resubmit(held); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}
	if r.sdk.Queued("cam0") != 2 {
		t.Errorf("expected 2 queued after one fill and one resubmit, got %d", r.sdk.Queued("cam0"))
	}

	t.Log("✅ held frame skipped by arm and queued exactly once")
}

func TestResubmitWhileHaltedReleasesFrame(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 8, SensorHeight: 8})
	ctx := context.Background()

	_ = r.ctrl.Arm(r.pool.Frames())
	_ = r.ctrl.Start(ctx)
	r.sdk.Fill("cam0", device.StatusComplete)
	held := r.fills[0]
	_ = r.ctrl.Stop(ctx)

	if err := r.ctrl.Resubmit(held); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("expected ErrNotStreaming, got %v", err)
	}
	if err := r.ctrl.Arm(r.pool.Frames()); err != nil {
		t.Fatalf("Arm() failed: %v", err)
	}
	if !r.sdk.IsQueued("cam0", held) || r.sdk.Queued("cam0") != 3 {
		t.Error("frame released while halted must be armed again")
	}
}

// lateCapture keeps the callback of every queueing so a test can deliver a
// completion after the frame was flushed.
type lateCapture struct {
	*device.Conn
	callbacks map[*device.Frame][]device.FrameCallback
}

func (c *lateCapture) CaptureFrameQueue(f *device.Frame, cb device.FrameCallback) error {
	c.callbacks[f] = append(c.callbacks[f], cb)
	return c.Conn.CaptureFrameQueue(f, cb)
}

func TestCompletionAfterFlushIgnored(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 8, SensorHeight: 8})
	ctx := context.Background()

	late := &lateCapture{Conn: r.conn, callbacks: map[*device.Frame][]device.FrameCallback{}}
	gw := feature.New(r.conn, feature.CommandConfig{Timeout: 200 * time.Millisecond})
	ctrl := New(late, gw, func(_ device.Handle, f *device.Frame) { r.fills = append(r.fills, f) })
	t.Cleanup(func() { _ = ctrl.Stop(context.Background()) })

	frames := r.pool.Frames()
	_ = ctrl.Arm(frames)
	_ = ctrl.Start(ctx)
	stale := late.callbacks[frames[0]][0]
	_ = ctrl.Stop(ctx)

	// Delivered while halted
	stale(r.conn.Handle(), frames[0])
	if len(r.fills) != 0 {
		t.Fatal("completion of a reclaimed frame must not reach the host")
	}

	if err := ctrl.Arm(frames); err != nil {
		t.Fatalf("Arm() failed: %v", err)
	}
	if r.sdk.Queued("cam0") != 3 {
		t.Fatalf("reclaimed frame must be armed again, got %d queued", r.sdk.Queued("cam0"))
	}

	// Delivered after the frame was queued again
	stale(r.conn.Handle(), frames[0])
	if len(r.fills) != 0 || ctrl.Current(frames[0]) {
		t.Fatal("completion of an earlier queueing must not hand out a queued frame")
	}
	if ctrl.Queued() != 3 {
		t.Errorf("expected 3 frames owned by the device, got %d", ctrl.Queued())
	}

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !r.sdk.Fill("cam0", device.StatusComplete) || len(r.fills) != 1 || r.fills[0] != frames[0] {
		t.Fatal("the current queueing must still complete normally")
	}
}

func TestResubmitForeignFrame(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 8, SensorHeight: 8})

	_ = r.ctrl.Arm(r.pool.Frames())
	foreign := &device.Frame{Buffer: make([]byte, 64)}
	if err := r.ctrl.Resubmit(foreign); !errors.Is(err, ErrForeignFrame) {
		t.Errorf("expected ErrForeignFrame, got %v", err)
	}
}

func TestConfigureWindow(t *testing.T) {
	r := newRig(t, simcam.Config{SensorWidth: 8, SensorHeight: 8})

	if err := r.ctrl.BeginConfigure(); err != nil {
		t.Fatalf("BeginConfigure() failed: %v", err)
	}
	if err := r.ctrl.Start(context.Background()); err == nil {
		t.Error("start must be refused while configuring")
	}
	r.ctrl.EndConfigure()

	if err := r.ctrl.Arm(r.pool.Frames()); err != nil {
		t.Fatalf("Arm() failed: %v", err)
	}
	if err := r.ctrl.BeginConfigure(); err == nil {
		t.Error("configure must be refused while armed")
	}
}
