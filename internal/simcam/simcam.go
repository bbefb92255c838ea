// Package simcam is an in-process GenICam-style camera implementing
// device.SDK.
//
// It keeps a feature node map per camera (geometry, pixel format, exposure,
// gain, trigger enums), enforces the announce/queue/capture rules a real
// transport layer enforces, and fills queued frames on demand or on a timer.
// Tests use it as a recording fake; the CLI uses it as a demo backend.
package simcam

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/vimba-capture/device"
)

// Config describes one simulated camera.
type Config struct {
	SensorWidth  int      // WidthMax (default: 4096)
	SensorHeight int      // HeightMax (default: 3000)
	PixelFormats []string // PixelFormat enum range (default: Mono8, Mono12, BayerRG8, RGB8Packed)
	Model        string   // DeviceModelName (default: "SimCam")
	Serial       string   // DeviceID (default: random uuid)

	// LegacyNames exposes ExposureTimeAbs/GainAbs instead of ExposureTime/Gain.
	LegacyNames bool

	// CommandLatency is how long a command stays pending after it runs.
	CommandLatency time.Duration
}

func (c Config) withDefaults() Config {
	if c.SensorWidth <= 0 {
		c.SensorWidth = 4096
	}
	if c.SensorHeight <= 0 {
		c.SensorHeight = 3000
	}
	if len(c.PixelFormats) == 0 {
		c.PixelFormats = []string{"Mono8", "Mono12", "BayerRG8", "RGB8Packed"}
	}
	if c.Model == "" {
		c.Model = "SimCam"
	}
	if c.Serial == "" {
		c.Serial = uuid.New().String()
	}
	return c
}

// Write is one successful feature write, in call order.
type Write struct {
	Feature string
	Value   string
}

// SDK hosts simulated cameras by id. All methods are safe for concurrent use.
type SDK struct {
	mu         sync.Mutex
	cameras    map[string]*camera
	handles    map[device.Handle]*camera
	nextHandle device.Handle
}

// New creates an empty simulator.
func New() *SDK {
	return &SDK{
		cameras:    make(map[string]*camera),
		handles:    make(map[device.Handle]*camera),
		nextHandle: 1,
	}
}

// Add registers a camera under id.
func (s *SDK) Add(id string, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras[id] = newCamera(id, cfg.withDefaults())
}

// Open implements device.SDK. A camera can be open through one handle at a time.
func (s *SDK) Open(id string) (device.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cam, ok := s.cameras[id]
	if !ok {
		return 0, &device.Error{Code: device.CodeNotFound}
	}
	if cam.open {
		return 0, &device.Error{Code: device.CodeInvalidAccess}
	}

	h := s.nextHandle
	s.nextHandle++
	cam.open = true
	cam.handle = h
	s.handles[h] = cam

	slog.Debug("simcam: camera opened", "camera_id", id, "handle", h)
	return h, nil
}

// Close implements device.SDK. Closing stops capture and forgets every
// announced frame.
func (s *SDK) Close(h device.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	cam.reset()
	cam.open = false
	delete(s.handles, h)
	return nil
}

func (s *SDK) lookup(h device.Handle) (*camera, error) {
	cam, ok := s.handles[h]
	if !ok {
		return nil, &device.Error{Code: device.CodeBadHandle}
	}
	return cam, nil
}

func (s *SDK) byID(id string) *camera {
	cam, ok := s.cameras[id]
	if !ok {
		panic(fmt.Sprintf("simcam: unknown camera %q", id))
	}
	return cam
}

// Reject makes every write to feature on camera id fail with code.
func (s *SDK) Reject(id, feature string, code device.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID(id).rejects[feature] = code
}

// Hide makes feature on camera id unknown (NotFound for reads and writes).
func (s *SDK) Hide(id, feature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID(id).hidden[feature] = true
}

// FailAnnounceAfter makes announces on camera id fail once n more have succeeded.
// A negative n disables the failure.
func (s *SDK) FailAnnounceAfter(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID(id).failAnnounceAfter = n
}

// Writes returns the successful feature writes on camera id, in order.
func (s *SDK) Writes(id string) []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.byID(id).writes))
	copy(out, s.byID(id).writes)
	return out
}

// ResetWrites clears the write log of camera id.
func (s *SDK) ResetWrites(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID(id).writes = nil
}

// Announced returns the number of frames currently announced on camera id.
func (s *SDK) Announced(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID(id).announced)
}

// AnnounceCalls returns the total number of successful announces on camera id.
func (s *SDK) AnnounceCalls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID(id).announceCalls
}

// Queued returns the number of frames waiting to be filled on camera id.
func (s *SDK) Queued(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID(id).queue)
}

// IsQueued reports whether f waits in the fill queue of camera id.
func (s *SDK) IsQueued(id string, f *device.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID(id).isQueued(f)
}

// Acquiring reports whether AcquisitionStart is in effect on camera id.
func (s *SDK) Acquiring(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID(id).acquiring
}

// Capturing reports whether the capture engine is started on camera id.
func (s *SDK) Capturing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID(id).capturing
}
