// Package settings holds the externally configurable camera feature values.
//
// A Settings value is a snapshot: callers mutate it freely and the session
// applies it to the device only at synchronization points (session start or an
// explicit re-apply), never partially. Zero values mean "leave the device
// feature untouched" so an empty snapshot is a no-op, except for the region of
// interest which always resolves to a concrete geometry.
package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AutoMode is the value of ExposureAuto and BalanceWhiteAuto.
type AutoMode string

const (
	AutoUnchanged  AutoMode = ""
	AutoOff        AutoMode = "Off"
	AutoOnce       AutoMode = "Once"
	AutoContinuous AutoMode = "Continuous"
)

// TriggerSelector selects which event type the trigger settings apply to.
type TriggerSelector string

const (
	SelectorUnchanged         TriggerSelector = ""
	SelectorAcquisitionStart  TriggerSelector = "AcquisitionStart"
	SelectorAcquisitionEnd    TriggerSelector = "AcquisitionEnd"
	SelectorAcquisitionActive TriggerSelector = "AcquisitionActive"
	SelectorFrameStart        TriggerSelector = "FrameStart"
	SelectorFrameEnd          TriggerSelector = "FrameEnd"
	SelectorFrameActive       TriggerSelector = "FrameActive"
	SelectorFrameBurstStart   TriggerSelector = "FrameBurstStart"
	SelectorFrameBurstEnd     TriggerSelector = "FrameBurstEnd"
	SelectorFrameBurstActive  TriggerSelector = "FrameBurstActive"
	SelectorLineStart         TriggerSelector = "LineStart"
	SelectorExposureStart     TriggerSelector = "ExposureStart"
	SelectorExposureEnd       TriggerSelector = "ExposureEnd"
	SelectorExposureActive    TriggerSelector = "ExposureActive"
)

// TriggerMode enables or disables the selected trigger.
type TriggerMode string

const (
	ModeUnchanged TriggerMode = ""
	ModeOff       TriggerMode = "Off"
	ModeOn        TriggerMode = "On"
)

// TriggerSource is the internal or external signal that fires the trigger.
type TriggerSource string

const SourceUnchanged TriggerSource = ""

// TriggerActivation is the edge or level of the source signal that counts.
type TriggerActivation string

const (
	ActivationUnchanged   TriggerActivation = ""
	ActivationRisingEdge  TriggerActivation = "RisingEdge"
	ActivationFallingEdge TriggerActivation = "FallingEdge"
	ActivationAnyEdge     TriggerActivation = "AnyEdge"
	ActivationLevelHigh   TriggerActivation = "LevelHigh"
	ActivationLevelLow    TriggerActivation = "LevelLow"
)

// IncompletePolicy decides what happens to frames the device reports as incomplete.
type IncompletePolicy string

const (
	// PolicyDrop resubmits incomplete frames without producing output.
	PolicyDrop IncompletePolicy = "drop"
	// PolicySubmit copies incomplete frames with their truncated fill length.
	PolicySubmit IncompletePolicy = "submit"
)

var (
	autoModes = set(AutoUnchanged, AutoOff, AutoOnce, AutoContinuous)

	selectors = set(SelectorUnchanged,
		SelectorAcquisitionStart, SelectorAcquisitionEnd, SelectorAcquisitionActive,
		SelectorFrameStart, SelectorFrameEnd, SelectorFrameActive,
		SelectorFrameBurstStart, SelectorFrameBurstEnd, SelectorFrameBurstActive,
		SelectorLineStart,
		SelectorExposureStart, SelectorExposureEnd, SelectorExposureActive)

	modes = set(ModeUnchanged, ModeOff, ModeOn)

	activations = set(ActivationUnchanged,
		ActivationRisingEdge, ActivationFallingEdge, ActivationAnyEdge,
		ActivationLevelHigh, ActivationLevelLow)

	sources = triggerSources()

	policies = set(IncompletePolicy(""), PolicyDrop, PolicySubmit)
)

func set[T comparable](values ...T) map[T]struct{} {
	m := make(map[T]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// triggerSources enumerates the GenICam trigger sources known to the cameras.
func triggerSources() map[TriggerSource]struct{} {
	values := []TriggerSource{SourceUnchanged, "Software"}
	for i := 0; i < 4; i++ {
		values = append(values,
			TriggerSource(fmt.Sprintf("Line%d", i)),
			TriggerSource(fmt.Sprintf("UserOutput%d", i)),
			TriggerSource(fmt.Sprintf("Counter%dStart", i)),
			TriggerSource(fmt.Sprintf("Counter%dEnd", i)),
			TriggerSource(fmt.Sprintf("Timer%dStart", i)),
			TriggerSource(fmt.Sprintf("Timer%dEnd", i)),
			TriggerSource(fmt.Sprintf("Encoder%d", i)),
			TriggerSource(fmt.Sprintf("LogicBlock%d", i)),
			TriggerSource(fmt.Sprintf("Action%d", i)),
			TriggerSource(fmt.Sprintf("LinkTrigger%d", i)),
		)
	}
	return set(values...)
}

// Settings is a snapshot of the configurable camera features.
type Settings struct {
	// ExposureTime in microseconds; nil leaves the device value untouched.
	ExposureTime *float64 `yaml:"exposure_time,omitempty" json:"exposure_time,omitempty"`
	ExposureAuto AutoMode `yaml:"exposure_auto,omitempty" json:"exposure_auto,omitempty"`

	BalanceWhiteAuto AutoMode `yaml:"balance_white_auto,omitempty" json:"balance_white_auto,omitempty"`

	// Gain in dB; nil leaves the device value untouched.
	Gain *float64 `yaml:"gain,omitempty" json:"gain,omitempty"`

	// Region of interest. Width/Height accept ExtentMax, offsets accept OffsetCenter.
	OffsetX Offset `yaml:"offset_x" json:"offset_x"`
	OffsetY Offset `yaml:"offset_y" json:"offset_y"`
	Width   Extent `yaml:"width" json:"width"`
	Height  Extent `yaml:"height" json:"height"`

	TriggerSelector   TriggerSelector   `yaml:"trigger_selector,omitempty" json:"trigger_selector,omitempty"`
	TriggerMode       TriggerMode       `yaml:"trigger_mode,omitempty" json:"trigger_mode,omitempty"`
	TriggerSource     TriggerSource     `yaml:"trigger_source,omitempty" json:"trigger_source,omitempty"`
	TriggerActivation TriggerActivation `yaml:"trigger_activation,omitempty" json:"trigger_activation,omitempty"`

	IncompleteFrames IncompletePolicy `yaml:"incomplete_frames,omitempty" json:"incomplete_frames,omitempty"`
}

// Default returns the snapshot used when nothing is configured: full-sensor
// ROI at the origin, every other feature untouched, incomplete frames dropped.
func Default() Settings {
	return Settings{
		Width:            ExtentMax,
		Height:           ExtentMax,
		IncompleteFrames: PolicyDrop,
	}
}

// Float returns a pointer to v, for ExposureTime and Gain literals.
func Float(v float64) *float64 {
	return &v
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	c := s
	if s.ExposureTime != nil {
		c.ExposureTime = Float(*s.ExposureTime)
	}
	if s.Gain != nil {
		c.Gain = Float(*s.Gain)
	}
	return c
}

// Policy returns the effective incomplete-frame policy.
func (s Settings) Policy() IncompletePolicy {
	if s.IncompleteFrames == "" {
		return PolicyDrop
	}
	return s.IncompleteFrames
}

// Validate checks ranges and enum membership.
func (s Settings) Validate() error {
	if s.ExposureTime != nil && *s.ExposureTime <= 0 {
		return fmt.Errorf("settings: exposure_time must be > 0, got %v", *s.ExposureTime)
	}
	if s.Gain != nil && *s.Gain < 0 {
		return fmt.Errorf("settings: gain must be >= 0, got %v", *s.Gain)
	}
	if _, ok := autoModes[s.ExposureAuto]; !ok {
		return fmt.Errorf("settings: invalid exposure_auto %q", s.ExposureAuto)
	}
	if _, ok := autoModes[s.BalanceWhiteAuto]; !ok {
		return fmt.Errorf("settings: invalid balance_white_auto %q", s.BalanceWhiteAuto)
	}
	if err := s.Width.validate("width"); err != nil {
		return err
	}
	if err := s.Height.validate("height"); err != nil {
		return err
	}
	if err := s.OffsetX.validate("offset_x"); err != nil {
		return err
	}
	if err := s.OffsetY.validate("offset_y"); err != nil {
		return err
	}
	if _, ok := selectors[s.TriggerSelector]; !ok {
		return fmt.Errorf("settings: invalid trigger_selector %q", s.TriggerSelector)
	}
	if _, ok := modes[s.TriggerMode]; !ok {
		return fmt.Errorf("settings: invalid trigger_mode %q", s.TriggerMode)
	}
	if _, ok := sources[s.TriggerSource]; !ok {
		return fmt.Errorf("settings: invalid trigger_source %q", s.TriggerSource)
	}
	if _, ok := activations[s.TriggerActivation]; !ok {
		return fmt.Errorf("settings: invalid trigger_activation %q", s.TriggerActivation)
	}
	if _, ok := policies[s.IncompleteFrames]; !ok {
		return fmt.Errorf("settings: invalid incomplete_frames %q", s.IncompleteFrames)
	}
	return nil
}

// Load reads a YAML settings file on top of Default and validates it.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings on top of Default and validates them.
func Parse(data []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}

	return s, nil
}
