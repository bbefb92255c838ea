package vimbacapture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/vimba-capture/internal/buffers"
	"github.com/e7canasta/vimba-capture/internal/sequencer"
	"github.com/e7canasta/vimba-capture/settings"
)

// StartSession applies the settings snapshot and starts acquisition.
//
// This method:
//  1. Applies the current settings (best effort, see LastReport)
//  2. Allocates the buffer pool, or replaces it if the payload grew
//  3. Starts the capture engine and queues every buffer
//  4. Runs AcquisitionStart and waits for the device to confirm it
//
// Returns ErrSessionActive if a session is already running. On failure
// everything started by this call is torn down again.
func (s *Source) StartSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotOpen
	}
	if s.active.Load() {
		return ErrSessionActive
	}

	s.applyLocked()

	if err := s.resumeLocked(ctx); err != nil {
		return err
	}

	s.started = time.Now()
	s.meter.Reset()
	slog.Info("vimba-capture: session started",
		"camera_id", s.cfg.CameraID,
		"buffers", s.pool.Len(),
		"frame_bytes", s.pool.Capacity(),
	)
	return nil
}

// StopSession stops acquisition and releases every buffer. Pending and
// future PullFrame calls return ErrFlushing until the next StartSession.
// Safe to call multiple times.
func (s *Source) StopSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.stopLocked(ctx)
}

// UpdateSettings edits the settings snapshot through fn.
//
// The edited snapshot is validated first; an invalid snapshot is rejected
// and the current one kept. When a session is active the snapshot is applied
// immediately (halt, apply, restart); otherwise it is applied at the next
// StartSession. The returned report is empty when nothing was applied.
func (s *Source) UpdateSettings(ctx context.Context, fn func(*settings.Settings)) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings.Clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		return Report{}, fmt.Errorf("vimba-capture: %w", err)
	}

	s.settings = next
	s.policy.Store(next.Policy())

	if !s.active.Load() {
		slog.Debug("vimba-capture: settings stored for next session")
		return Report{}, nil
	}

	if err := s.haltLocked(ctx); err != nil {
		slog.Warn("vimba-capture: halt before re-apply failed", "error", err)
	}
	s.applyLocked()

	if err := s.resumeLocked(ctx); err != nil {
		return s.report, err
	}
	atomic.AddUint64(&s.reconfigurations, 1)

	return s.report, nil
}

// applyLocked writes the settings snapshot inside the configuration window.
func (s *Source) applyLocked() {
	if err := s.ctrl.BeginConfigure(); err != nil {
		slog.Error("vimba-capture: cannot configure", "error", err)
		return
	}
	s.report = sequencer.Apply(s.gw, s.settings)
	s.ctrl.EndConfigure()
}

// resumeLocked makes sure the pool fits the current payload, arms the
// capture engine and starts acquisition. On failure the session is left
// stopped with no buffers.
//
// When the pool is kept, frames the pull side still holds from before the
// halt are not armed; they return to the device through the adapter.
func (s *Source) resumeLocked(ctx context.Context) error {
	if err := s.ensurePoolLocked(); err != nil {
		s.failLocked(ctx)
		return err
	}

	s.adapter.Load().Bind(s.pool, s.ctrl)

	if err := s.ctrl.Arm(s.pool.Frames()); err != nil {
		s.failLocked(ctx)
		return fmt.Errorf("vimba-capture: %w", err)
	}
	if err := s.ctrl.Start(ctx); err != nil {
		s.failLocked(ctx)
		return fmt.Errorf("vimba-capture: %w", err)
	}

	s.flushing.Store(false)
	s.active.Store(true)
	return nil
}

// ensurePoolLocked allocates the pool, or replaces it when the device
// payload no longer fits.
func (s *Source) ensurePoolLocked() error {
	size, sizeErr := s.gw.Int("PayloadSize")
	if s.pool != nil && !s.pool.NeedsResize(size, sizeErr) {
		return nil
	}

	if s.pool != nil {
		slog.Info("vimba-capture: payload grew, reallocating buffers",
			"old_bytes", s.pool.Capacity(),
			"new_bytes", size,
			"size_error", sizeErr,
		)
		s.releaseLocked()
	}

	pool, err := buffers.Allocate(s.conn, s.cfg.BufferCount)
	if err != nil {
		return fmt.Errorf("vimba-capture: %w", err)
	}
	s.pool = pool
	return nil
}

// haltLocked stops acquisition but keeps the buffers announced, the pool
// bound and the completions queued. Frames filled before the halt are
// recycled by the pull side.
func (s *Source) haltLocked(ctx context.Context) error {
	s.active.Store(false)
	return s.ctrl.Stop(ctx)
}

// releaseLocked unbinds the pull side, drops pending completions and
// releases the pool. Release waits for a copy in progress.
func (s *Source) releaseLocked() {
	s.adapter.Load().Unbind()
	s.queue.Reset()
	if s.pool != nil {
		s.pool.Release()
		s.pool = nil
	}
}

// failLocked tears down a failed (re)start completely.
func (s *Source) failLocked(ctx context.Context) {
	s.flushing.Store(true)
	if err := s.haltLocked(ctx); err != nil {
		slog.Warn("vimba-capture: teardown after failed start", "error", err)
	}
	s.releaseLocked()
}

// stopLocked stops acquisition and releases the buffers.
func (s *Source) stopLocked(ctx context.Context) error {
	s.flushing.Store(true)
	wasActive := s.active.Load()

	err := s.haltLocked(ctx)
	s.releaseLocked()

	if wasActive {
		slog.Info("vimba-capture: session stopped",
			"camera_id", s.cfg.CameraID,
			"frames_produced", s.adapter.Load().Stats().FramesProduced,
		)
	}
	return err
}
