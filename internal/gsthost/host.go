package gsthost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	vimbacapture "github.com/e7canasta/vimba-capture"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Config contains configuration for the streaming host
type Config struct {
	// CameraID is used for log context only
	CameraID string
	// Pipeline configures the downstream elements
	Pipeline PipelineConfig
	// IdleWait is how long the feeder sleeps while the appsrc queue is
	// full or no session is running (default: 20ms)
	IdleWait time.Duration
}

// Stats contains host-side counters
type Stats struct {
	FramesPushed      uint64 `json:"frames_pushed"`
	BytesPushed       uint64 `json:"bytes_pushed"`
	PushFailures      uint64 `json:"push_failures"`
	CapsChanges       uint64 `json:"caps_changes"`
	NegotiationErrors uint64 `json:"negotiation_errors"`
	ResourceErrors    uint64 `json:"resource_errors"`
	StreamErrors      uint64 `json:"stream_errors"`
	UnknownErrors     uint64 `json:"unknown_errors"`
}

// Host feeds frames from a FrameSource into a GStreamer appsrc.
//
// The appsrc signals need-data/enough-data; the feeder only pulls while the
// pipeline wants data, so camera buffers stay in flight instead of piling up
// in GStreamer queues.
type Host struct {
	src vimbacapture.FrameSource
	cfg Config

	wanted   atomic.Bool
	lastCaps string // feeder goroutine only

	framesPushed uint64 // atomic
	bytesPushed  uint64 // atomic
	pushFailures uint64 // atomic
	capsChanges  uint64 // atomic
	errCounts    ErrorCounters
}

// New creates a Host for src.
func New(src vimbacapture.FrameSource, cfg Config) *Host {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 20 * time.Millisecond
	}
	return &Host{src: src, cfg: cfg}
}

// Run builds the pipeline, sets it PLAYING and feeds frames until ctx is
// cancelled or the pipeline reports an error.
//
// This method:
//  1. Creates the appsrc pipeline and hooks need-data/enough-data
//  2. Starts the bus monitor
//  3. Pulls frames and pushes them as buffers, updating caps on change
//  4. On shutdown sends EOS and sets the pipeline to NULL
//
// Returns nil on a clean shutdown (ctx cancelled).
func (h *Host) Run(ctx context.Context) error {
	elements, err := CreatePipeline(h.cfg.Pipeline)
	if err != nil {
		return err
	}
	defer func() {
		if err := DestroyPipeline(elements); err != nil {
			slog.Warn("gsthost: pipeline cleanup failed", "error", err)
		}
	}()

	elements.Src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(_ *app.Source, _ uint) {
			h.wanted.Store(true)
		},
		EnoughDataFunc: func(_ *app.Source) {
			h.wanted.Store(false)
		},
	})
	h.wanted.Store(true)

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := &MonitorMetrics{
		CameraID:     h.cfg.CameraID,
		FramesPushed: &h.framesPushed,
		StartedAt:    time.Now(),
	}
	monitorDone := make(chan error, 1)
	go func() {
		err := MonitorPipelineBus(ctx, elements.Pipeline, &h.errCounts, metrics)
		cancel()
		monitorDone <- err
	}()

	slog.Info("gsthost: feeding pipeline",
		"camera_id", h.cfg.CameraID,
		"sink", h.cfg.Pipeline.Sink,
	)

	feedErr := h.feed(ctx, elements.Src)
	cancel()
	monitorErr := <-monitorDone

	elements.Src.EndStream()

	stats := h.Stats()
	slog.Info("gsthost: pipeline stopped",
		"camera_id", h.cfg.CameraID,
		"frames_pushed", stats.FramesPushed,
		"push_failures", stats.PushFailures,
	)

	if feedErr != nil {
		return feedErr
	}
	return monitorErr
}

// feed is the streaming loop. ErrFlushing while ctx is alive means no
// session is running; the loop idles until one starts.
func (h *Host) feed(ctx context.Context, src *app.Source) error {
	alive := func() bool {
		return ctx.Err() == nil && h.wanted.Load()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !h.wanted.Load() {
			h.idle(ctx)
			continue
		}

		frame, err := h.src.PullFrame(alive)
		if errors.Is(err, vimbacapture.ErrFlushing) || errors.Is(err, vimbacapture.ErrNotOpen) {
			h.idle(ctx)
			continue
		}
		if err != nil {
			return fmt.Errorf("gsthost: pull frame: %w", err)
		}

		if err := h.updateCaps(src, frame); err != nil {
			slog.Warn("gsthost: dropping frame", "frame_id", frame.FrameID, "error", err)
			continue
		}

		ret := src.PushBuffer(newBuffer(frame.Data, frame.Timestamp))
		if ret != gst.FlowOK {
			atomic.AddUint64(&h.pushFailures, 1)
			if ret == gst.FlowFlushing {
				return nil
			}
			return fmt.Errorf("gsthost: push buffer: %v", ret)
		}

		atomic.AddUint64(&h.framesPushed, 1)
		atomic.AddUint64(&h.bytesPushed, uint64(len(frame.Data)))
		slog.Debug("gsthost: frame pushed",
			"frame_id", frame.FrameID,
			"size_bytes", len(frame.Data),
			"trace_id", frame.TraceID,
		)
	}
}

// updateCaps sets new caps on the appsrc when format or geometry changed.
func (h *Host) updateCaps(src *app.Source, frame *vimbacapture.Frame) error {
	caps, err := capsFor(frame.Format, frame.Width, frame.Height)
	if err != nil {
		return err
	}
	if caps == h.lastCaps {
		return nil
	}

	src.SetCaps(gst.NewCapsFromString(caps))
	h.lastCaps = caps
	atomic.AddUint64(&h.capsChanges, 1)
	slog.Info("gsthost: caps updated", "caps", caps)
	return nil
}

func (h *Host) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(h.cfg.IdleWait):
	}
}

// Stats returns host counters. Thread-safe.
func (h *Host) Stats() Stats {
	return Stats{
		FramesPushed:      atomic.LoadUint64(&h.framesPushed),
		BytesPushed:       atomic.LoadUint64(&h.bytesPushed),
		PushFailures:      atomic.LoadUint64(&h.pushFailures),
		CapsChanges:       atomic.LoadUint64(&h.capsChanges),
		NegotiationErrors: atomic.LoadUint64(&h.errCounts.Negotiation),
		ResourceErrors:    atomic.LoadUint64(&h.errCounts.Resource),
		StreamErrors:      atomic.LoadUint64(&h.errCounts.Stream),
		UnknownErrors:     atomic.LoadUint64(&h.errCounts.Unknown),
	}
}
