package simcam

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/vimba-capture/device"
)

func (s *SDK) Announce(h device.Handle, f *device.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	if cam.announced[f] {
		return &device.Error{Code: device.CodeInvalidCall}
	}
	if int64(f.Capacity()) < cam.payloadSize() {
		return &device.Error{Code: device.CodeBadParameter}
	}
	if cam.failAnnounceAfter == 0 {
		return &device.Error{Code: device.CodeResources}
	}
	if cam.failAnnounceAfter > 0 {
		cam.failAnnounceAfter--
	}
	cam.announced[f] = true
	cam.announceCalls++
	return nil
}

func (s *SDK) Revoke(h device.Handle, f *device.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	if !cam.announced[f] {
		return &device.Error{Code: device.CodeBadParameter}
	}
	if cam.capturing && cam.isQueued(f) {
		return &device.Error{Code: device.CodeInvalidCall}
	}
	delete(cam.announced, f)
	return nil
}

func (s *SDK) CaptureStart(h device.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	if cam.capturing {
		return &device.Error{Code: device.CodeInvalidCall}
	}
	cam.capturing = true
	return nil
}

func (s *SDK) CaptureEnd(h device.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	cam.capturing = false
	return nil
}

func (s *SDK) CaptureQueueFlush(h device.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	cam.queue = nil
	return nil
}

// CaptureFrameQueue implements device.SDK. A frame may be queued once until
// the device hands it back through cb.
func (s *SDK) CaptureFrameQueue(h device.Handle, f *device.Frame, cb device.FrameCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	if !cam.announced[f] {
		return &device.Error{Code: device.CodeBadParameter}
	}
	if !cam.capturing {
		return &device.Error{Code: device.CodeInvalidCall}
	}
	if cam.isQueued(f) {
		return &device.Error{Code: device.CodeInvalidCall}
	}
	f.Status = device.StatusPending
	cam.queue = append(cam.queue, queued{frame: f, cb: cb})
	return nil
}

func (c *camera) isQueued(f *device.Frame) bool {
	for _, q := range c.queue {
		if q.frame == f {
			return true
		}
	}
	return false
}

// fill writes the oldest queued frame and returns the callback invocation to
// run once the SDK lock is released, or nil if nothing can be filled.
func (c *camera) fill(status device.FrameStatus) func() {
	if !c.acquiring || len(c.queue) == 0 {
		return nil
	}
	q := c.queue[0]
	c.queue = c.queue[1:]

	c.frameID++
	f := q.frame
	n := int(c.payloadSize())
	if n > f.Capacity() {
		n = f.Capacity()
	}
	if status == device.StatusIncomplete {
		n /= 2
	}
	pattern(f.Buffer[:n], byte(c.frameID))

	f.Filled = n
	f.Status = status
	f.ID = c.frameID
	f.Timestamp = uint64(time.Now().UnixNano())
	f.Width = int(c.ints["Width"])
	f.Height = int(c.ints["Height"])
	f.OffsetX = int(c.ints["OffsetX"])
	f.OffsetY = int(c.ints["OffsetY"])

	h := c.handle
	cb := q.cb
	return func() { cb(h, f) }
}

// pattern fills b with a ramp starting at seed.
func pattern(b []byte, seed byte) {
	if len(b) == 0 {
		return
	}
	for i := 0; i < len(b) && i < 256; i++ {
		b[i] = seed + byte(i)
	}
	for filled := 256; filled < len(b); filled *= 2 {
		copy(b[filled:], b[:filled])
	}
}

// Fill completes the oldest queued frame of camera id with status and
// delivers it through its callback on the calling goroutine. It reports
// false when the camera is not acquiring or has nothing queued.
func (s *SDK) Fill(id string, status device.FrameStatus) bool {
	s.mu.Lock()
	fire := s.byID(id).fill(status)
	s.mu.Unlock()

	if fire == nil {
		return false
	}
	fire()
	return true
}

// Stream free-runs camera id, filling one frame per interval while it
// acquires with TriggerMode Off. Triggered cameras only fill on
// TriggerSoftware. Returns when ctx is cancelled.
func (s *SDK) Stream(ctx context.Context, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("simcam: free-run started", "camera_id", id, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("simcam: free-run stopped", "camera_id", id)
			return nil
		case <-ticker.C:
		}

		s.mu.Lock()
		cam := s.byID(id)
		var fire func()
		if cam.enums["TriggerMode"] == "Off" {
			fire = cam.fill(device.StatusComplete)
		}
		s.mu.Unlock()

		if fire != nil {
			fire()
		}
	}
}
