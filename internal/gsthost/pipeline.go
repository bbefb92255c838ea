// Package gsthost drives a Source from a GStreamer pipeline: an appsrc pulls
// frames and pushes them to a configurable downstream sink.
package gsthost

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/vimba-capture/internal/formats"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// srcName is the appsrc element name inside the launch line.
const srcName = "camsrc"

// DefaultSink discards frames as fast as they arrive.
const DefaultSink = "fakesink sync=false"

// PipelineConfig contains configuration for GStreamer pipeline creation
type PipelineConfig struct {
	// Sink is the launch fragment downstream of the camera source
	// (default: DefaultSink). Bayer formats need "bayer2rgb ! ..." here.
	Sink string
	// MaxBytes caps the appsrc internal queue (0: appsrc default)
	MaxBytes uint64
}

// PipelineElements holds references to GStreamer pipeline elements
type PipelineElements struct {
	Pipeline *gst.Pipeline
	Src      *app.Source
}

// buildLaunch returns the gst-launch description of the pipeline.
//
//	appsrc name=camsrc ! queue ! <sink>
func buildLaunch(sink string) string {
	if sink == "" {
		sink = DefaultSink
	}
	return fmt.Sprintf("appsrc name=%s ! queue ! %s", srcName, sink)
}

// CreatePipeline parses the launch line and configures the appsrc as a live,
// self-timestamping source.
//
// The pipeline is configured but NOT started (state remains NULL).
// Caps are set once the first frame reveals format and geometry.
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	launch := buildLaunch(cfg.Sink)
	slog.Debug("gsthost: creating pipeline", "pipeline", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName(srcName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to find %s: %w", srcName, err)
	}

	src := app.SrcFromElement(elem)
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)
	src.SetProperty("format", gst.FormatTime)
	src.SetProperty("block", false)
	if cfg.MaxBytes > 0 {
		src.SetProperty("max-bytes", cfg.MaxBytes)
	}

	return &PipelineElements{Pipeline: pipeline, Src: src}, nil
}

// DestroyPipeline cleans up GStreamer pipeline resources
//
// Safe to call even if pipeline is already destroyed.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// capsFor renders the fixed caps for a frame of the given generic format.
func capsFor(generic string, width, height int) (string, error) {
	e, ok := formats.ByGeneric(generic, nil)
	if !ok {
		return "", fmt.Errorf("gsthost: no caps for format %q", generic)
	}
	return e.Caps(width, height), nil
}

// deviceTimestampCaps tags the device timestamp attached to every buffer.
const deviceTimestampCaps = "timestamp/x-vimba-device"

// newBuffer wraps frame bytes into a GStreamer buffer carrying the device
// timestamp as reference-timestamp metadata.
func newBuffer(data []byte, deviceTicks uint64) *gst.Buffer {
	buf := gst.NewBufferFromBytes(data)
	buf.AddReferenceTimestampMeta(gst.NewCapsFromString(deviceTimestampCaps), time.Duration(deviceTicks), 0)
	return buf
}
