package vimbacapture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/vimba-capture/device"
	"github.com/e7canasta/vimba-capture/internal/acquisition"
	"github.com/e7canasta/vimba-capture/internal/buffers"
	"github.com/e7canasta/vimba-capture/internal/completion"
	"github.com/e7canasta/vimba-capture/internal/feature"
	"github.com/e7canasta/vimba-capture/internal/formats"
	"github.com/e7canasta/vimba-capture/internal/pull"
	"github.com/e7canasta/vimba-capture/internal/rate"
	"github.com/e7canasta/vimba-capture/internal/sequencer"
	"github.com/e7canasta/vimba-capture/settings"
)

// Config contains configuration for a camera source
type Config struct {
	// SDK is the camera SDK binding (required)
	SDK device.SDK
	// CameraID identifies the camera to open (required)
	CameraID string
	// BufferCount is the number of frames kept in flight (default: 3)
	BufferCount int
	// PollInterval bounds how long PullFrame waits before re-checking
	// liveness (default: 10ms)
	PollInterval time.Duration
	// CommandTimeout bounds the wait for AcquisitionStart/Stop (default: 2s)
	CommandTimeout time.Duration
	// Settings is the initial feature snapshot (default: settings.Default())
	Settings *settings.Settings
}

// Source is one camera acquisition session.
//
// Control operations (Open, Close, NegotiateFormat, StartSession,
// StopSession, UpdateSettings) are serialized by a single mutex, the device
// owner discipline. PullFrame runs concurrently with them on the host's
// streaming goroutine and never takes that mutex.
type Source struct {
	cfg      Config
	registry *completion.Registry
	meter    *rate.Meter

	mu        sync.Mutex
	conn      *device.Conn
	gw        *feature.Gateway
	ctrl      *acquisition.Controller
	pool      *buffers.Pool
	queue     *completion.Queue
	supported []formats.Entry
	settings  settings.Settings
	report    sequencer.Report
	model     string
	serial    string
	started   time.Time

	adapter          atomic.Pointer[pull.Adapter]
	format           atomic.Pointer[formats.Entry]
	active           atomic.Bool
	flushing         atomic.Bool
	policy           atomic.Value // settings.IncompletePolicy
	reconfigurations uint64       // atomic
}

// New creates a Source with fail-fast validation
//
// Validates configuration at construction time:
//   - SDK must not be nil
//   - CameraID must not be empty
//   - BufferCount, PollInterval and CommandTimeout must not be negative
//   - Settings (if given) must validate
//
// The camera is not opened until Open.
func New(cfg Config) (*Source, error) {
	if cfg.SDK == nil {
		return nil, fmt.Errorf("vimba-capture: SDK is required")
	}
	if cfg.CameraID == "" {
		return nil, fmt.Errorf("vimba-capture: camera id is required")
	}
	if cfg.BufferCount < 0 {
		return nil, fmt.Errorf("vimba-capture: invalid buffer count %d", cfg.BufferCount)
	}
	if cfg.PollInterval < 0 || cfg.CommandTimeout < 0 {
		return nil, fmt.Errorf("vimba-capture: durations must not be negative")
	}
	if cfg.BufferCount == 0 {
		cfg.BufferCount = buffers.DefaultCount
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = feature.DefaultCommandConfig().Timeout
	}

	initial := settings.Default()
	if cfg.Settings != nil {
		if err := cfg.Settings.Validate(); err != nil {
			return nil, fmt.Errorf("vimba-capture: %w", err)
		}
		initial = cfg.Settings.Clone()
	}

	s := &Source{
		cfg:      cfg,
		registry: completion.Default,
		meter:    rate.NewMeter(rate.DefaultWindow),
		settings: initial,
	}
	s.policy.Store(initial.Policy())
	s.flushing.Store(true)

	slog.Info("vimba-capture: source created",
		"camera_id", cfg.CameraID,
		"buffer_count", cfg.BufferCount,
		"poll_interval", cfg.PollInterval,
		"command_timeout", cfg.CommandTimeout,
	)

	return s, nil
}

// Open connects to the camera and queries its supported formats.
//
// This method:
//  1. Opens the camera through the SDK
//  2. Binds a completion queue to the handle in the callback registry
//  3. Reads the PixelFormat range and maps it through the format catalog
//  4. Reads the current pixel format, model and serial (best effort)
//
// Calling Open on an open Source is a no-op.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, err := device.Open(s.cfg.SDK, s.cfg.CameraID)
	if err != nil {
		return err
	}

	gw := feature.New(conn, feature.CommandConfig{Timeout: s.cfg.CommandTimeout})

	vendorFormats, err := gw.EnumRange("PixelFormat")
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("vimba-capture: query pixel formats: %w", err)
	}

	queue := completion.NewQueue()
	s.registry.Register(conn.Handle(), queue)

	s.conn = conn
	s.gw = gw
	s.queue = queue
	s.adapter.Store(pull.New(queue, s.cfg.PollInterval))
	s.ctrl = acquisition.New(conn, gw, s.registry.Dispatch)
	s.supported = formats.Supported(vendorFormats)
	s.format.Store(nil)

	if current, err := gw.Enum("PixelFormat"); err == nil {
		if e, ok := formats.ByVendor(current); ok {
			s.format.Store(&e)
		}
	}
	for _, name := range vendorFormats {
		if _, ok := formats.ByVendor(name); !ok {
			slog.Debug("vimba-capture: pixel format not in catalog",
				"vendor", name,
				"bayer", formats.IsBayerVendor(name),
			)
		}
	}
	s.model, _ = gw.StringValue("DeviceModelName")
	s.serial, _ = gw.StringValue("DeviceID")

	raw, bayer := formats.Split(s.supported)
	slog.Info("vimba-capture: camera ready",
		"camera_id", s.cfg.CameraID,
		"model", s.model,
		"serial", s.serial,
		"raw_formats", raw,
		"bayer_formats", bayer,
		"unknown_formats", len(vendorFormats)-len(s.supported),
	)

	return nil
}

// Close stops any session, releases buffers and closes the camera.
// Safe to call multiple times.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	stopErr := s.stopLocked(context.Background())

	s.registry.Unregister(s.conn.Handle())
	closeErr := s.conn.Close()

	s.conn = nil
	s.gw = nil
	s.ctrl = nil

	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// Capabilities reports the current geometry and the formats the camera can
// produce, split into raw and Bayer families.
func (s *Source) Capabilities() (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return Capabilities{}, ErrNotOpen
	}

	width, err := s.gw.Int("Width")
	if err != nil {
		return Capabilities{}, err
	}
	height, err := s.gw.Int("Height")
	if err != nil {
		return Capabilities{}, err
	}

	caps := Capabilities{
		Model:  s.model,
		Serial: s.serial,
		Width:  int(width),
		Height: int(height),
	}
	caps.Raw, caps.Bayer = formats.Split(s.supported)

	seen := make(map[string]bool)
	for _, e := range s.supported {
		if seen[e.Generic] {
			continue
		}
		seen[e.Generic] = true
		caps.Caps = append(caps.Caps, e.Caps(caps.Width, caps.Height))
	}
	if f := s.format.Load(); f != nil {
		caps.Current = f.Generic
	}
	return caps, nil
}

// NegotiateFormat switches the camera to the generic format name.
//
// Unknown or unsupported names fail with *FormatError before anything is
// touched. Otherwise the session (if active) is halted, PixelFormat is
// written, the buffer pool is replaced if the new PayloadSize is larger or
// cannot be read, and the session is restarted.
func (s *Source) NegotiateFormat(ctx context.Context, generic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotOpen
	}

	vendorNames := make([]string, len(s.supported))
	for i, e := range s.supported {
		vendorNames[i] = e.Vendor
	}
	entry, ok := formats.ByGeneric(generic, vendorNames)
	if !ok {
		return &FormatError{Format: generic}
	}

	wasActive := s.active.Load()
	if wasActive {
		if err := s.haltLocked(ctx); err != nil {
			slog.Warn("vimba-capture: halt before format change failed", "error", err)
		}
	}

	setErr := s.gw.SetEnum("PixelFormat", entry.Vendor)
	if setErr == nil {
		s.format.Store(&entry)
		slog.Info("vimba-capture: pixel format negotiated",
			"generic", entry.Generic,
			"vendor", entry.Vendor,
		)
	} else {
		slog.Error("vimba-capture: pixel format rejected",
			"vendor", entry.Vendor,
			"error", setErr,
		)
	}

	if wasActive {
		if err := s.resumeLocked(ctx); err != nil {
			return err
		}
		atomic.AddUint64(&s.reconfigurations, 1)
	}

	return setErr
}

// PullFrame blocks until the next frame is available and returns a copy of
// it. alive is polled at least once per PollInterval; when it reports false,
// or the session stops, PullFrame returns ErrFlushing.
//
// PullFrame is safe to call concurrently with control operations; it is
// intended to be driven by a single consumer goroutine.
func (s *Source) PullFrame(alive func() bool) (*Frame, error) {
	adapter := s.adapter.Load()
	if adapter == nil {
		return nil, ErrNotOpen
	}

	live := func() bool {
		return !s.flushing.Load() && (alive == nil || alive())
	}

	out, err := adapter.Next(s.policy.Load().(settings.IncompletePolicy), live)
	if err != nil {
		return nil, err
	}
	s.meter.Record(time.Now())

	frame := &Frame{
		Data:       out.Data,
		FrameID:    out.FrameID,
		Timestamp:  out.Timestamp,
		Width:      out.Width,
		Height:     out.Height,
		OffsetX:    out.OffsetX,
		OffsetY:    out.OffsetY,
		Incomplete: out.Incomplete,
		TraceID:    out.TraceID,
	}
	if f := s.format.Load(); f != nil {
		frame.Format = f.Generic
	}
	return frame, nil
}

// Settings returns a copy of the current feature snapshot.
func (s *Source) Settings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// DeviceSettings reads the configurable features back from the camera.
// Values the camera changed on its own (auto exposure, clamped ROI) appear
// here and not in Settings. Features that cannot be read keep the stored
// value and show up as failures in the report.
func (s *Source) DeviceSettings() (settings.Settings, Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return settings.Settings{}, Report{}, ErrNotOpen
	}
	got, report := sequencer.ReadBack(s.gw, s.settings)
	return got, report, nil
}

// LastReport returns the outcome of the most recent settings application.
func (s *Source) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// State returns the acquisition state (StateIdle if not open).
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return StateIdle
	}
	return s.ctrl.State()
}

// Active reports whether a session is started.
func (s *Source) Active() bool {
	return s.active.Load()
}

// Stats returns current session statistics. Thread-safe.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	queue, ctrl, started := s.queue, s.ctrl, s.started
	s.mu.Unlock()
	adapter := s.adapter.Load()
	format := s.format.Load()

	st := Stats{
		Reconfigurations:  atomic.LoadUint64(&s.reconfigurations),
		OrphanCompletions: s.registry.Orphans(),
		State:             StateIdle.String(),
	}
	if adapter != nil {
		p := adapter.Stats()
		st.FramesProduced = p.FramesProduced
		st.BytesCopied = p.BytesCopied
		st.IncompleteDropped = p.IncompleteDropped
		st.IncompleteSubmitted = p.IncompleteSubmitted
		st.ResubmitFailures = p.ResubmitFailures
		st.StaleDiscarded = p.StaleDiscarded
	}
	if queue != nil {
		st.Pending = queue.Len()
	}
	if ctrl != nil {
		st.State = ctrl.State().String()
	}
	if format != nil {
		st.Format = format.Generic
	}
	if s.active.Load() {
		st.Uptime = time.Since(started)
	}
	st.Rate = s.meter.Stats()
	return st
}
