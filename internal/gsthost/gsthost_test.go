package gsthost

import (
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name  string
		msg   string
		debug string
		want  ErrorCategory
	}{
		{"not negotiated", "Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", ErrCategoryNegotiation},
		{"caps", "Could not link", "caps are incompatible", ErrCategoryNegotiation},
		{"display", "Could not open display", "", ErrCategoryResource},
		{"file busy", "Resource busy or not available", "", ErrCategoryResource},
		{"data flow", "Internal data stream error.", "streaming stopped, reason error (-5)", ErrCategoryStream},
		{"unknown", "something odd", "", ErrCategoryUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.msg, tc.debug); got != tc.want {
				t.Errorf("classify(%q, %q) = %s, want %s", tc.msg, tc.debug, got, tc.want)
			}
		})
	}
}

func TestClassifyNilError(t *testing.T) {
	if got := ClassifyGStreamerError(nil); got != ErrCategoryUnknown {
		t.Errorf("expected unknown for nil error, got %s", got)
	}
}

func TestErrorCounters(t *testing.T) {
	var c ErrorCounters
	c.add(ErrCategoryNegotiation)
	c.add(ErrCategoryNegotiation)
	c.add(ErrCategoryResource)
	c.add(ErrCategoryUnknown)

	if c.Negotiation != 2 || c.Resource != 1 || c.Stream != 0 || c.Unknown != 1 {
		t.Errorf("unexpected counters %+v", c)
	}
}

func TestBuildLaunch(t *testing.T) {
	if got := buildLaunch(""); got != "appsrc name=camsrc ! queue ! fakesink sync=false" {
		t.Errorf("unexpected default launch %q", got)
	}

	got := buildLaunch("bayer2rgb ! videoconvert ! autovideosink")
	if !strings.HasPrefix(got, "appsrc name=camsrc ! queue ! bayer2rgb") {
		t.Errorf("unexpected launch %q", got)
	}
}

func TestCapsFor(t *testing.T) {
	testCases := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{"GRAY8", "video/x-raw,format=GRAY8,width=640,height=480,framerate=0/1", false},
		{"GRAY16_LE", "video/x-raw,format=GRAY16_LE,width=640,height=480,framerate=0/1", false},
		{"rggb", "video/x-bayer,format=rggb,width=640,height=480,framerate=0/1", false},
		{"NV12", "", true},
		{"", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			got, err := capsFor(tc.format, 640, 480)
			if (err != nil) != tc.wantErr {
				t.Fatalf("capsFor() error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("capsFor() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	h := New(nil, Config{CameraID: "cam0"})
	if h.cfg.IdleWait != 20*time.Millisecond {
		t.Errorf("expected 20ms idle wait, got %v", h.cfg.IdleWait)
	}
	if stats := h.Stats(); stats != (Stats{}) {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}
