package buffers

import (
	"errors"
	"testing"

	"github.com/e7canasta/vimba-capture/device"
	"github.com/e7canasta/vimba-capture/internal/simcam"
)

func openSim(t *testing.T, cfg simcam.Config) (*simcam.SDK, *device.Conn) {
	t.Helper()
	sdk := simcam.New()
	sdk.Add("cam0", cfg)
	conn, err := device.Open(sdk, "cam0")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return sdk, conn
}

func TestAllocateAnnouncesEachFrameOnce(t *testing.T) {
	sdk, conn := openSim(t, simcam.Config{SensorWidth: 32, SensorHeight: 16})

	pool, err := Allocate(conn, DefaultCount)
	if err != nil {
		t.Fatalf("Allocate() failed: %v", err)
	}

	if pool.Len() != DefaultCount {
		t.Errorf("expected %d frames, got %d", DefaultCount, pool.Len())
	}
	if pool.Capacity() != 32*16 {
		t.Errorf("expected capacity %d, got %d", 32*16, pool.Capacity())
	}
	if sdk.Announced("cam0") != DefaultCount || sdk.AnnounceCalls("cam0") != DefaultCount {
		t.Errorf("expected %d announces, got %d (calls %d)",
			DefaultCount, sdk.Announced("cam0"), sdk.AnnounceCalls("cam0"))
	}
	for i, f := range pool.Frames() {
		if f.Slot != i || f.Capacity() != pool.Capacity() {
			t.Errorf("frame %d: slot %d capacity %d", i, f.Slot, f.Capacity())
		}
	}

	pool.Release()
	if sdk.Announced("cam0") != 0 {
		t.Errorf("expected 0 announced after release, got %d", sdk.Announced("cam0"))
	}

	pool.Release()
	t.Logf("✅ %d frames announced once and revoked", DefaultCount)
}

func TestAllocateRollsBackOnPartialFailure(t *testing.T) {
	sdk, conn := openSim(t, simcam.Config{SensorWidth: 8, SensorHeight: 8})
	sdk.FailAnnounceAfter("cam0", 2)

	pool, err := Allocate(conn, 3)
	if pool != nil {
		t.Fatal("expected no pool on failure")
	}

	var re *device.ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("expected *device.ResourceError, got %v", err)
	}
	if re.Slot != 2 || device.CodeOf(err) != device.CodeResources {
		t.Errorf("unexpected resource error %+v", re)
	}
	if sdk.Announced("cam0") != 0 {
		t.Errorf("expected rollback to revoke every announced frame, %d left", sdk.Announced("cam0"))
	}
}

func TestAllocatePayloadUnreadable(t *testing.T) {
	sdk, conn := openSim(t, simcam.Config{})
	sdk.Hide("cam0", "PayloadSize")

	if _, err := Allocate(conn, 3); !device.IsNotFound(err) {
		t.Errorf("expected NotFound payload size error, got %v", err)
	}
	if sdk.AnnounceCalls("cam0") != 0 {
		t.Error("nothing may be announced when the size is unknown")
	}
}

func TestNeedsResize(t *testing.T) {
	_, conn := openSim(t, simcam.Config{SensorWidth: 10, SensorHeight: 10})

	pool, err := Allocate(conn, 1)
	if err != nil {
		t.Fatalf("Allocate() failed: %v", err)
	}
	defer pool.Release()

	testCases := []struct {
		name string
		size int64
		err  error
		want bool
	}{
		{"smaller", 50, nil, false},
		{"equal", 100, nil, false},
		{"larger", 101, nil, true},
		{"unknown", 0, errors.New("unreadable"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pool.NeedsResize(tc.size, tc.err); got != tc.want {
				t.Errorf("NeedsResize(%d, %v) = %v, want %v", tc.size, tc.err, got, tc.want)
			}
		})
	}
}

func TestContainsAndBorrow(t *testing.T) {
	_, conn := openSim(t, simcam.Config{SensorWidth: 4, SensorHeight: 4})

	oldPool, err := Allocate(conn, 2)
	if err != nil {
		t.Fatalf("Allocate() failed: %v", err)
	}
	stale := oldPool.Frames()[0]
	oldPool.Release()

	newPool, err := Allocate(conn, 2)
	if err != nil {
		t.Fatalf("Allocate() failed: %v", err)
	}
	defer newPool.Release()

	if newPool.Contains(stale) || oldPool.Contains(stale) {
		t.Error("stale frame must not be owned by any live pool")
	}
	if newPool.Borrow(stale, func(*device.Frame) { t.Error("borrow callback ran for stale frame") }) {
		t.Error("borrow of stale frame must fail")
	}

	called := false
	if !newPool.Borrow(newPool.Frames()[1], func(*device.Frame) { called = true }) || !called {
		t.Error("borrow of owned frame must run the callback")
	}
}
