package vimbacapture

import (
	"time"

	"github.com/e7canasta/vimba-capture/device"
	"github.com/e7canasta/vimba-capture/internal/acquisition"
	"github.com/e7canasta/vimba-capture/internal/rate"
	"github.com/e7canasta/vimba-capture/internal/sequencer"
	"github.com/e7canasta/vimba-capture/settings"
)

// Frame is one acquired image, copied out of the device buffer
type Frame struct {
	// Data holds exactly the bytes the device filled
	Data []byte
	// FrameID is the device's monotonic frame counter
	FrameID uint64
	// Timestamp is the device timestamp in ticks
	Timestamp uint64
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// OffsetX and OffsetY locate the ROI on the sensor
	OffsetX int
	OffsetY int
	// Format is the generic format name (e.g., "GRAY8", "rggb")
	Format string
	// Incomplete is true when the device delivered fewer bytes than the
	// payload size and the policy is to submit such frames
	Incomplete bool
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// Capabilities describes what the open camera can produce
type Capabilities struct {
	// Model and Serial identify the camera (empty if unreadable)
	Model  string `json:"model,omitempty"`
	Serial string `json:"serial,omitempty"`
	// Width and Height are the current image dimensions
	Width  int `json:"width"`
	Height int `json:"height"`
	// Raw lists generic video/x-raw formats the camera supports
	Raw []string `json:"raw"`
	// Bayer lists generic video/x-bayer formats the camera supports
	Bayer []string `json:"bayer"`
	// Current is the negotiated generic format (empty if the device's
	// current pixel format is not in the catalog)
	Current string `json:"current,omitempty"`
	// Caps lists one caps string per supported format at the current size
	Caps []string `json:"caps"`
}

// Stats contains current session statistics
type Stats struct {
	// FramesProduced is the total number of frames returned by PullFrame
	FramesProduced uint64 `json:"frames_produced"`
	// BytesCopied is the total payload bytes copied out
	BytesCopied uint64 `json:"bytes_copied"`
	// IncompleteDropped counts incomplete frames resubmitted without output
	IncompleteDropped uint64 `json:"incomplete_dropped"`
	// IncompleteSubmitted counts incomplete frames returned truncated
	IncompleteSubmitted uint64 `json:"incomplete_submitted"`
	// ResubmitFailures counts frames the device refused to take back
	ResubmitFailures uint64 `json:"resubmit_failures"`
	// StaleDiscarded counts completions of buffers from a replaced pool
	StaleDiscarded uint64 `json:"stale_discarded"`
	// OrphanCompletions counts completions for handles no source had bound
	OrphanCompletions uint64 `json:"orphan_completions"`
	// Reconfigurations counts settings re-applied during an active session
	Reconfigurations uint64 `json:"reconfigurations"`
	// Pending is the number of completions waiting to be pulled
	Pending int `json:"pending"`
	// State is the acquisition state (idle, armed, running, ...)
	State string `json:"state"`
	// Format is the negotiated generic format
	Format string `json:"format,omitempty"`
	// Uptime is the time since the session started (zero if inactive)
	Uptime time.Duration `json:"uptime"`
	// Rate describes recent PullFrame deliveries
	Rate RateStats `json:"rate"`
}

// RateStats describes the delivery rate over the recent frame window.
type RateStats = rate.Stats

// State is the acquisition lifecycle state.
type State = acquisition.State

const (
	StateIdle        = acquisition.Idle
	StateConfiguring = acquisition.Configuring
	StateArmed       = acquisition.Armed
	StateRunning     = acquisition.Running
	StateStopping    = acquisition.Stopping
)

// Report is the per-setting outcome of the last settings application.
type Report = sequencer.Report

// StepResult is one entry of a Report.
type StepResult = sequencer.Step

// Settings is the camera feature snapshot.
type Settings = settings.Settings

// SDK is the camera SDK surface a Source drives.
type SDK = device.SDK
