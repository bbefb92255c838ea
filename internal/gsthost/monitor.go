package gsthost

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCounters holds atomic counters for bus error categories
type ErrorCounters struct {
	Negotiation uint64 // atomic
	Resource    uint64 // atomic
	Stream      uint64 // atomic
	Unknown     uint64 // atomic
}

func (c *ErrorCounters) add(category ErrorCategory) {
	switch category {
	case ErrCategoryNegotiation:
		atomic.AddUint64(&c.Negotiation, 1)
	case ErrCategoryResource:
		atomic.AddUint64(&c.Resource, 1)
	case ErrCategoryStream:
		atomic.AddUint64(&c.Stream, 1)
	default:
		atomic.AddUint64(&c.Unknown, 1)
	}
}

// MonitorMetrics holds values logged alongside bus events
type MonitorMetrics struct {
	CameraID     string
	FramesPushed *uint64
	StartedAt    time.Time
}

// MonitorPipelineBus watches the pipeline bus.
//
// This function:
//  1. Polls the bus for messages (EOS, Error, StateChanged)
//  2. Classifies errors and updates the counters
//  3. Logs pipeline state transitions
//
// Returns an error on a pipeline error or an unexpected end of stream.
// Returns nil if ctx is cancelled.
func MonitorPipelineBus(
	ctx context.Context,
	pipeline *gst.Pipeline,
	counters *ErrorCounters,
	metrics *MonitorMetrics,
) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gsthost: context cancelled, stopping bus monitor")
			return nil
		default:
		}

		// Short timeout keeps shutdown responsive
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			if ctx.Err() != nil {
				return nil
			}
			slog.Info("gsthost: end of stream received",
				"camera_id", metrics.CameraID,
				"uptime", time.Since(metrics.StartedAt),
				"frames_pushed", atomic.LoadUint64(metrics.FramesPushed),
			)
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			counters.add(category)

			slog.Error("gsthost: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"camera_id", metrics.CameraID,
				"uptime", time.Since(metrics.StartedAt),
				"frames_pushed", atomic.LoadUint64(metrics.FramesPushed),
			)
			return fmt.Errorf("pipeline error [%s]: %s", category.String(), gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("gsthost: pipeline state changed",
					"from", old,
					"to", new,
				)
				if new == gst.StatePlaying {
					slog.Info("gsthost: pipeline playing", "camera_id", metrics.CameraID)
				}
			}
		}
	}
}
