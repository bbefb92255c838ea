package vimbacapture

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/vimba-capture/device"
	"github.com/e7canasta/vimba-capture/internal/completion"
	"github.com/e7canasta/vimba-capture/internal/sequencer"
	"github.com/e7canasta/vimba-capture/internal/simcam"
	"github.com/e7canasta/vimba-capture/settings"
)

func always() bool { return true }

// newTestSource opens a source on a 64x32 simulated camera with its own
// callback registry.
func newTestSource(t *testing.T, cfg simcam.Config) (*Source, *simcam.SDK) {
	t.Helper()

	if cfg.SensorWidth == 0 {
		cfg.SensorWidth, cfg.SensorHeight = 64, 32
	}
	if cfg.PixelFormats == nil {
		cfg.PixelFormats = []string{"Mono8", "Mono12", "BayerRG8", "Custom10"}
	}

	sdk := simcam.New()
	sdk.Add("cam0", cfg)

	src, err := New(Config{SDK: sdk, CameraID: "cam0", CommandTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	src.registry = completion.NewRegistry()

	if err := src.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src, sdk
}

func TestNew_Validation(t *testing.T) {
	sdk := simcam.New()
	bad := settings.Default()
	bad.Width = 0

	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{SDK: sdk, CameraID: "cam0"}, false},
		{"missing sdk", Config{CameraID: "cam0"}, true},
		{"missing camera", Config{SDK: sdk}, true},
		{"negative buffers", Config{SDK: sdk, CameraID: "cam0", BufferCount: -1}, true},
		{"negative interval", Config{SDK: sdk, CameraID: "cam0", PollInterval: -time.Second}, true},
		{"invalid settings", Config{SDK: sdk, CameraID: "cam0", Settings: &bad}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestOpen_UnknownCamera(t *testing.T) {
	src, err := New(Config{SDK: simcam.New(), CameraID: "ghost"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = src.Open()
	var oe *OpenError
	if !errors.As(err, &oe) || oe.CameraID != "ghost" {
		t.Fatalf("expected *OpenError for ghost, got %v", err)
	}
	if !device.IsNotFound(err) {
		t.Errorf("expected NotFound cause, got %v", err)
	}
}

func TestEndToEnd_Mono8ThreeFrames(t *testing.T) {
	src, sdk := newTestSource(t, simcam.Config{})
	ctx := context.Background()

	if err := src.NegotiateFormat(ctx, "GRAY8"); err != nil {
		t.Fatalf("NegotiateFormat() failed: %v", err)
	}
	if err := src.StartSession(ctx); err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}
	if src.State() != StateRunning {
		t.Fatalf("expected running, got %s", src.State())
	}
	if n := sdk.Announced("cam0"); n != 3 {
		t.Fatalf("expected 3 announced buffers, got %d", n)
	}

	for i := 0; i < 3; i++ {
		if !sdk.Fill("cam0", device.StatusComplete) {
			t.Fatalf("fill %d failed", i)
		}
	}

	for i := 1; i <= 3; i++ {
		frame, err := src.PullFrame(always)
		if err != nil {
			t.Fatalf("PullFrame() %d failed: %v", i, err)
		}
		if frame.FrameID != uint64(i) || len(frame.Data) != 64*32 || frame.Format != "GRAY8" {
			t.Errorf("frame %d: id=%d bytes=%d format=%s", i, frame.FrameID, len(frame.Data), frame.Format)
		}
		if frame.Width != 64 || frame.Height != 32 {
			t.Errorf("frame %d: unexpected geometry %dx%d", i, frame.Width, frame.Height)
		}
	}

	if sdk.Queued("cam0") != 3 {
		t.Errorf("expected every buffer resubmitted, %d queued", sdk.Queued("cam0"))
	}

	if err := src.StopSession(ctx); err != nil {
		t.Fatalf("StopSession() failed: %v", err)
	}
	if n := sdk.Announced("cam0"); n != 0 {
		t.Errorf("expected 0 announced after stop, got %d", n)
	}

	stats := src.Stats()
	if stats.FramesProduced != 3 || stats.BytesCopied != 3*64*32 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Rate.Frames != 3 {
		t.Errorf("expected 3 arrivals in the rate window, got %d", stats.Rate.Frames)
	}
	t.Logf("✅ 3 frames pulled, %d bytes copied, buffers revoked", stats.BytesCopied)
}

func TestPullFrame_FlushingOnStop(t *testing.T) {
	src, _ := newTestSource(t, simcam.Config{})
	ctx := context.Background()

	if err := src.StartSession(ctx); err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}

	var wg sync.WaitGroup
	var pullErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, pullErr = src.PullFrame(always)
	}()

	time.Sleep(30 * time.Millisecond)
	if err := src.StopSession(ctx); err != nil {
		t.Fatalf("StopSession() failed: %v", err)
	}
	wg.Wait()

	if !errors.Is(pullErr, ErrFlushing) {
		t.Errorf("expected ErrFlushing, got %v", pullErr)
	}
}

func TestPullFrame_HostCancellation(t *testing.T) {
	src, _ := newTestSource(t, simcam.Config{})

	if err := src.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := src.PullFrame(func() bool { return ctx.Err() == nil })
	if !errors.Is(err, ErrFlushing) {
		t.Errorf("expected ErrFlushing, got %v", err)
	}
	if src.State() != StateRunning {
		t.Error("host cancellation must not stop the session")
	}
}

func TestStartSession_Twice(t *testing.T) {
	src, _ := newTestSource(t, simcam.Config{})
	ctx := context.Background()

	if err := src.StartSession(ctx); err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}
	if err := src.StartSession(ctx); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestStartSession_FailureTearsDown(t *testing.T) {
	src, sdk := newTestSource(t, simcam.Config{})
	sdk.Reject("cam0", "AcquisitionStart", device.CodeInvalidAccess)

	err := src.StartSession(context.Background())
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Feature != "AcquisitionStart" {
		t.Fatalf("expected AcquisitionStart command error, got %v", err)
	}

	if src.State() != StateIdle || src.Active() {
		t.Errorf("expected idle inactive source, got %s", src.State())
	}
	if sdk.Announced("cam0") != 0 || sdk.Capturing("cam0") {
		t.Error("failed start must release buffers and stop the engine")
	}
}

func TestNegotiateFormat(t *testing.T) {
	t.Run("unknown format leaves session untouched", func(t *testing.T) {
		src, sdk := newTestSource(t, simcam.Config{})
		ctx := context.Background()
		if err := src.StartSession(ctx); err != nil {
			t.Fatalf("StartSession() failed: %v", err)
		}
		calls := sdk.AnnounceCalls("cam0")

		err := src.NegotiateFormat(ctx, "NV12")
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("expected *FormatError, got %v", err)
		}
		if src.State() != StateRunning || sdk.AnnounceCalls("cam0") != calls {
			t.Error("rejected format must not touch the session")
		}
	})

	t.Run("unsupported by device", func(t *testing.T) {
		src, _ := newTestSource(t, simcam.Config{})

		var fe *FormatError
		if err := src.NegotiateFormat(context.Background(), "RGB"); !errors.As(err, &fe) {
			t.Errorf("expected *FormatError for RGB, got %v", err)
		}
	})

	t.Run("larger payload reallocates while running", func(t *testing.T) {
		src, sdk := newTestSource(t, simcam.Config{})
		ctx := context.Background()
		if err := src.StartSession(ctx); err != nil {
			t.Fatalf("StartSession() failed: %v", err)
		}

		if err := src.NegotiateFormat(ctx, "GRAY16_LE"); err != nil {
			t.Fatalf("NegotiateFormat() failed: %v", err)
		}

		if src.State() != StateRunning {
			t.Fatalf("expected session restarted, got %s", src.State())
		}
		if sdk.AnnounceCalls("cam0") != 6 || sdk.Announced("cam0") != 3 {
			t.Errorf("expected a new pool of 3 (calls=%d announced=%d)",
				sdk.AnnounceCalls("cam0"), sdk.Announced("cam0"))
		}

		sdk.Fill("cam0", device.StatusComplete)
		frame, err := src.PullFrame(always)
		if err != nil {
			t.Fatalf("PullFrame() failed: %v", err)
		}
		if len(frame.Data) != 64*32*2 || frame.Format != "GRAY16_LE" {
			t.Errorf("unexpected frame: %d bytes format %s", len(frame.Data), frame.Format)
		}
		if src.Stats().Reconfigurations != 1 {
			t.Errorf("expected 1 reconfiguration, got %d", src.Stats().Reconfigurations)
		}
	})

	t.Run("smaller payload keeps pool", func(t *testing.T) {
		src, sdk := newTestSource(t, simcam.Config{PixelFormats: []string{"Mono12", "Mono8"}})
		ctx := context.Background()
		if err := src.StartSession(ctx); err != nil {
			t.Fatalf("StartSession() failed: %v", err)
		}

		if err := src.NegotiateFormat(ctx, "GRAY8"); err != nil {
			t.Fatalf("NegotiateFormat() failed: %v", err)
		}
		if sdk.AnnounceCalls("cam0") != 3 {
			t.Errorf("pool must be reused, %d announces", sdk.AnnounceCalls("cam0"))
		}
	})
}

func TestCapabilities(t *testing.T) {
	src, _ := newTestSource(t, simcam.Config{Model: "Alvium 1800 U-240m"})

	caps, err := src.Capabilities()
	if err != nil {
		t.Fatalf("Capabilities() failed: %v", err)
	}

	if !reflect.DeepEqual(caps.Raw, []string{"GRAY8", "GRAY16_LE"}) {
		t.Errorf("unexpected raw formats %v", caps.Raw)
	}
	if !reflect.DeepEqual(caps.Bayer, []string{"rggb"}) {
		t.Errorf("unexpected bayer formats %v", caps.Bayer)
	}
	if caps.Width != 64 || caps.Height != 32 || caps.Current != "GRAY8" {
		t.Errorf("unexpected geometry/current %+v", caps)
	}
	if len(caps.Caps) != 3 || caps.Caps[2] != "video/x-bayer,format=rggb,width=64,height=32,framerate=0/1" {
		t.Errorf("unexpected caps %v", caps.Caps)
	}
	if caps.Model != "Alvium 1800 U-240m" {
		t.Errorf("unexpected model %q", caps.Model)
	}
}

func TestUpdateSettings(t *testing.T) {
	t.Run("invalid snapshot rejected", func(t *testing.T) {
		src, _ := newTestSource(t, simcam.Config{})

		_, err := src.UpdateSettings(context.Background(), func(s *settings.Settings) {
			s.TriggerSource = "Line42"
		})
		if err == nil {
			t.Fatal("expected validation error")
		}
		if src.Settings().TriggerSource != settings.SourceUnchanged {
			t.Error("rejected snapshot must not be stored")
		}
	})

	t.Run("stored while idle, applied at start", func(t *testing.T) {
		src, sdk := newTestSource(t, simcam.Config{})
		ctx := context.Background()

		report, err := src.UpdateSettings(ctx, func(s *settings.Settings) {
			s.Gain = settings.Float(4)
		})
		if err != nil || len(report.Steps) != 0 {
			t.Fatalf("expected nothing applied while idle, got %v %v", report, err)
		}
		for _, w := range sdk.Writes("cam0") {
			if w.Feature == "Gain" {
				t.Fatal("gain written before session start")
			}
		}

		if err := src.StartSession(ctx); err != nil {
			t.Fatalf("StartSession() failed: %v", err)
		}
		if src.LastReport().Count(sequencer.Applied) == 0 {
			t.Error("expected applied steps in the report")
		}
	})

	t.Run("re-applied during session", func(t *testing.T) {
		src, sdk := newTestSource(t, simcam.Config{})
		ctx := context.Background()
		if err := src.StartSession(ctx); err != nil {
			t.Fatalf("StartSession() failed: %v", err)
		}

		report, err := src.UpdateSettings(ctx, func(s *settings.Settings) {
			s.Width = 32
			s.OffsetX = settings.OffsetCenter
		})
		if err != nil {
			t.Fatalf("UpdateSettings() failed: %v (report err %v)", err, report.Err())
		}
		if report.Err() != nil {
			t.Errorf("unexpected step failures: %v", report.Err())
		}
		if src.State() != StateRunning {
			t.Fatalf("expected session restarted, got %s", src.State())
		}

		sdk.Fill("cam0", device.StatusComplete)
		frame, err := src.PullFrame(always)
		if err != nil {
			t.Fatalf("PullFrame() failed: %v", err)
		}
		if frame.Width != 32 || frame.OffsetX != 16 || len(frame.Data) != 32*32 {
			t.Errorf("unexpected ROI frame %dx%d+%d (%d bytes)",
				frame.Width, frame.Height, frame.OffsetX, len(frame.Data))
		}
	})

	t.Run("incomplete policy switch", func(t *testing.T) {
		src, sdk := newTestSource(t, simcam.Config{})
		ctx := context.Background()
		if err := src.StartSession(ctx); err != nil {
			t.Fatalf("StartSession() failed: %v", err)
		}

		sdk.Fill("cam0", device.StatusIncomplete)
		sdk.Fill("cam0", device.StatusComplete)
		frame, err := src.PullFrame(always)
		if err != nil || frame.Incomplete {
			t.Fatalf("drop policy must skip the incomplete frame: %+v %v", frame, err)
		}

		if _, err := src.UpdateSettings(ctx, func(s *settings.Settings) {
			s.IncompleteFrames = settings.PolicySubmit
		}); err != nil {
			t.Fatalf("UpdateSettings() failed: %v", err)
		}

		sdk.Fill("cam0", device.StatusIncomplete)
		frame, err = src.PullFrame(always)
		if err != nil || !frame.Incomplete || len(frame.Data) != 64*32/2 {
			t.Errorf("submit policy must deliver the truncated frame: %+v %v", frame, err)
		}
	})
}

func TestClose_Idempotent(t *testing.T) {
	src, sdk := newTestSource(t, simcam.Config{})
	if err := src.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession() failed: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	if sdk.Announced("cam0") != 0 {
		t.Error("close must release every buffer")
	}
	if _, err := src.Capabilities(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after close, got %v", err)
	}

	t.Log("✅ Double Close() successful (no panic)")
}
