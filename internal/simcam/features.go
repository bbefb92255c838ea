package simcam

import (
	"strconv"
	"time"

	"github.com/e7canasta/vimba-capture/device"
)

var (
	autoRange       = []string{"Off", "Once", "Continuous"}
	triggerModes    = []string{"Off", "On"}
	triggerSelector = []string{
		"AcquisitionStart", "AcquisitionEnd", "AcquisitionActive",
		"FrameStart", "FrameEnd", "FrameActive",
		"FrameBurstStart", "FrameBurstEnd", "FrameBurstActive",
		"LineStart", "ExposureStart", "ExposureEnd", "ExposureActive",
	}
	triggerActivation = []string{"RisingEdge", "FallingEdge", "AnyEdge", "LevelHigh", "LevelLow"}
	triggerSources    = []string{"Software", "Line0", "Line1", "Line2", "Line3"}
)

// bitsPerPixel for the pixel formats the simulator can produce.
var bitsPerPixel = map[string]int{
	"Mono8": 8, "Mono10": 16, "Mono12": 16, "Mono14": 16, "Mono16": 16,
	"RGB8": 24, "RGB8Packed": 24, "BGR8": 24, "BGR8Packed": 24,
	"Argb8": 32, "Rgba8": 32, "Bgra8": 32,
	"Yuv411": 12, "YUV411Packed": 12, "YCbCr411_8_CbYYCrYY": 12,
	"Yuv422": 16, "YUV422Packed": 16, "YCbCr422_8_CbYCrY": 16,
	"Yuv444": 24, "YUV444Packed": 24, "YCbCr8_CbYCr": 24,
	"BayerGR8": 8, "BayerRG8": 8, "BayerGB8": 8, "BayerBG8": 8,
}

type queued struct {
	frame *device.Frame
	cb    device.FrameCallback
}

type camera struct {
	id     string
	cfg    Config
	open   bool
	handle device.Handle

	ints    map[string]int64
	floats  map[string]float64
	enums   map[string]string
	ranges  map[string][]string
	strings map[string]string

	hidden  map[string]bool
	rejects map[string]device.Code
	writes  []Write

	commandDone map[string]time.Time

	announced         map[*device.Frame]bool
	announceCalls     int
	failAnnounceAfter int
	queue             []queued
	capturing         bool
	acquiring         bool
	frameID           uint64
}

func newCamera(id string, cfg Config) *camera {
	c := &camera{
		id:  id,
		cfg: cfg,
		ints: map[string]int64{
			"Width":     int64(cfg.SensorWidth),
			"Height":    int64(cfg.SensorHeight),
			"OffsetX":   0,
			"OffsetY":   0,
			"WidthMax":  int64(cfg.SensorWidth),
			"HeightMax": int64(cfg.SensorHeight),
		},
		floats: map[string]float64{},
		enums: map[string]string{
			"PixelFormat":       cfg.PixelFormats[0],
			"ExposureAuto":      "Off",
			"BalanceWhiteAuto":  "Off",
			"TriggerSelector":   "FrameStart",
			"TriggerMode":       "Off",
			"TriggerSource":     "Software",
			"TriggerActivation": "RisingEdge",
		},
		ranges: map[string][]string{
			"PixelFormat":       cfg.PixelFormats,
			"ExposureAuto":      autoRange,
			"BalanceWhiteAuto":  autoRange,
			"TriggerSelector":   triggerSelector,
			"TriggerMode":       triggerModes,
			"TriggerSource":     triggerSources,
			"TriggerActivation": triggerActivation,
		},
		strings: map[string]string{
			"DeviceID":        cfg.Serial,
			"DeviceModelName": cfg.Model,
		},
		hidden:            map[string]bool{},
		rejects:           map[string]device.Code{},
		commandDone:       map[string]time.Time{},
		announced:         map[*device.Frame]bool{},
		failAnnounceAfter: -1,
	}

	if cfg.LegacyNames {
		c.floats["ExposureTimeAbs"] = 10000
		c.floats["GainAbs"] = 0
	} else {
		c.floats["ExposureTime"] = 10000
		c.floats["Gain"] = 0
	}
	return c
}

func (c *camera) reset() {
	c.acquiring = false
	c.capturing = false
	c.queue = nil
	c.announced = map[*device.Frame]bool{}
}

func notFound() error { return &device.Error{Code: device.CodeNotFound} }

func (c *camera) payloadSize() int64 {
	bits, ok := bitsPerPixel[c.enums["PixelFormat"]]
	if !ok {
		bits = 8
	}
	return c.ints["Width"] * c.ints["Height"] * int64(bits) / 8
}

// locked features cannot change while the device streams.
func locked(name string) bool {
	switch name {
	case "Width", "Height", "PixelFormat":
		return true
	}
	return false
}

func (c *camera) checkWrite(name string) error {
	if c.hidden[name] {
		return notFound()
	}
	if code, ok := c.rejects[name]; ok {
		return &device.Error{Code: code}
	}
	if c.acquiring && locked(name) {
		return &device.Error{Code: device.CodeInvalidAccess}
	}
	return nil
}

func (c *camera) intGet(name string) (int64, error) {
	if c.hidden[name] {
		return 0, notFound()
	}
	if name == "PayloadSize" {
		return c.payloadSize(), nil
	}
	v, ok := c.ints[name]
	if !ok {
		if _, isFloat := c.floats[name]; isFloat {
			return 0, &device.Error{Code: device.CodeWrongType}
		}
		return 0, notFound()
	}
	return v, nil
}

func (c *camera) intSet(name string, v int64) error {
	if err := c.checkWrite(name); err != nil {
		return err
	}
	switch name {
	case "WidthMax", "HeightMax", "PayloadSize":
		return &device.Error{Code: device.CodeInvalidAccess}
	case "Width":
		if v <= 0 || c.ints["OffsetX"]+v > c.ints["WidthMax"] {
			return &device.Error{Code: device.CodeInvalidValue}
		}
	case "Height":
		if v <= 0 || c.ints["OffsetY"]+v > c.ints["HeightMax"] {
			return &device.Error{Code: device.CodeInvalidValue}
		}
	case "OffsetX":
		if v < 0 || v+c.ints["Width"] > c.ints["WidthMax"] {
			return &device.Error{Code: device.CodeInvalidValue}
		}
	case "OffsetY":
		if v < 0 || v+c.ints["Height"] > c.ints["HeightMax"] {
			return &device.Error{Code: device.CodeInvalidValue}
		}
	default:
		if _, ok := c.ints[name]; !ok {
			return notFound()
		}
	}
	c.ints[name] = v
	c.writes = append(c.writes, Write{Feature: name, Value: strconv.FormatInt(v, 10)})
	return nil
}

func (c *camera) floatGet(name string) (float64, error) {
	if c.hidden[name] {
		return 0, notFound()
	}
	v, ok := c.floats[name]
	if !ok {
		return 0, notFound()
	}
	return v, nil
}

func (c *camera) floatSet(name string, v float64) error {
	if err := c.checkWrite(name); err != nil {
		return err
	}
	if _, ok := c.floats[name]; !ok {
		return notFound()
	}
	switch name {
	case "ExposureTime", "ExposureTimeAbs":
		if v <= 0 {
			return &device.Error{Code: device.CodeInvalidValue}
		}
	case "Gain", "GainAbs":
		if v < 0 || v > 48 {
			return &device.Error{Code: device.CodeInvalidValue}
		}
	}
	c.floats[name] = v
	c.writes = append(c.writes, Write{Feature: name, Value: strconv.FormatFloat(v, 'f', -1, 64)})
	return nil
}

func (c *camera) enumGet(name string) (string, error) {
	if c.hidden[name] {
		return "", notFound()
	}
	v, ok := c.enums[name]
	if !ok {
		return "", notFound()
	}
	return v, nil
}

func (c *camera) enumSet(name, v string) error {
	if err := c.checkWrite(name); err != nil {
		return err
	}
	valid, ok := c.ranges[name]
	if !ok {
		return notFound()
	}
	for _, allowed := range valid {
		if allowed == v {
			c.enums[name] = v
			c.writes = append(c.writes, Write{Feature: name, Value: v})
			return nil
		}
	}
	return &device.Error{Code: device.CodeInvalidValue}
}

func (c *camera) enumRange(name string) ([]string, error) {
	if c.hidden[name] {
		return nil, notFound()
	}
	valid, ok := c.ranges[name]
	if !ok {
		return nil, notFound()
	}
	out := make([]string, len(valid))
	copy(out, valid)
	return out, nil
}

func (c *camera) stringGet(name string) (string, error) {
	if c.hidden[name] {
		return "", notFound()
	}
	v, ok := c.strings[name]
	if !ok {
		return "", notFound()
	}
	return v, nil
}

func (s *SDK) IntGet(h device.Handle, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return 0, err
	}
	return cam.intGet(name)
}

func (s *SDK) IntSet(h device.Handle, name string, v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	return cam.intSet(name, v)
}

func (s *SDK) FloatGet(h device.Handle, name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return 0, err
	}
	return cam.floatGet(name)
}

func (s *SDK) FloatSet(h device.Handle, name string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	return cam.floatSet(name, v)
}

func (s *SDK) EnumGet(h device.Handle, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return "", err
	}
	return cam.enumGet(name)
}

func (s *SDK) EnumSet(h device.Handle, name string, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return err
	}
	return cam.enumSet(name, v)
}

func (s *SDK) EnumRange(h device.Handle, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	return cam.enumRange(name)
}

func (s *SDK) StringGet(h device.Handle, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return "", err
	}
	return cam.stringGet(name)
}

// CommandRun implements device.SDK. AcquisitionStart requires a started
// capture engine; TriggerSoftware fills one queued frame while acquiring.
func (s *SDK) CommandRun(h device.Handle, name string) error {
	s.mu.Lock()
	cam, err := s.lookup(h)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if cam.hidden[name] {
		s.mu.Unlock()
		return notFound()
	}
	if code, ok := cam.rejects[name]; ok {
		s.mu.Unlock()
		return &device.Error{Code: code}
	}

	var fire func()
	switch name {
	case "AcquisitionStart":
		if !cam.capturing {
			s.mu.Unlock()
			return &device.Error{Code: device.CodeInvalidCall}
		}
		cam.acquiring = true
	case "AcquisitionStop":
		cam.acquiring = false
	case "TriggerSoftware":
		fire = cam.fill(device.StatusComplete)
	default:
		s.mu.Unlock()
		return notFound()
	}
	cam.commandDone[name] = time.Now().Add(cam.cfg.CommandLatency)
	s.mu.Unlock()

	if fire != nil {
		fire()
	}
	return nil
}

func (s *SDK) CommandIsDone(h device.Handle, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, err := s.lookup(h)
	if err != nil {
		return false, err
	}
	at, ok := cam.commandDone[name]
	if !ok {
		if cam.hidden[name] {
			return false, notFound()
		}
		return true, nil
	}
	return !time.Now().Before(at), nil
}
