// Package sequencer writes a settings snapshot to the device in the order
// camera features depend on each other.
package sequencer

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/e7canasta/vimba-capture/settings"
)

// Outcome of one step.
type Outcome int

const (
	Applied Outcome = iota
	Failed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Step records what happened to one setting.
type Step struct {
	Setting string  `json:"setting"`
	Feature string  `json:"feature,omitempty"`
	Value   string  `json:"value,omitempty"`
	Outcome Outcome `json:"-"`
	Err     error   `json:"-"`
}

// Report is the ordered list of steps of one Apply.
type Report struct {
	Steps []Step
}

// Failures returns the failed steps.
func (r Report) Failures() []Step {
	var out []Step
	for _, s := range r.Steps {
		if s.Outcome == Failed {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of steps with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == o {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed step, nil if none failed.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Failures() {
		errs = append(errs, fmt.Errorf("%s: %w", s.Setting, s.Err))
	}
	return errors.Join(errs...)
}

// Features is the feature surface the sequencer writes through (feature.Gateway).
type Features interface {
	Int(name string) (int64, error)
	SetInt(name string, v int64) error
	SetEnumAny(candidates []string, v string) (string, error)
	SetFloatAny(candidates []string, v float64) (string, error)
}

// Candidate device names per setting, tried in order on NotFound.
var (
	exposureNames          = []string{"ExposureTime", "ExposureTimeAbs"}
	gainNames              = []string{"Gain", "GainAbs"}
	exposureAutoNames      = []string{"ExposureAuto"}
	balanceWhiteAutoNames  = []string{"BalanceWhiteAuto"}
	triggerSelectorNames   = []string{"TriggerSelector"}
	triggerActivationNames = []string{"TriggerActivation"}
	triggerSourceNames     = []string{"TriggerSource"}
	triggerModeNames       = []string{"TriggerMode"}
)

type run struct {
	dev    Features
	report Report
}

func (r *run) record(step Step) {
	if step.Outcome == Failed {
		slog.Warn("sequencer: setting not applied",
			"setting", step.Setting,
			"feature", step.Feature,
			"value", step.Value,
			"error", step.Err,
		)
	} else {
		slog.Debug("sequencer: step",
			"setting", step.Setting,
			"feature", step.Feature,
			"value", step.Value,
			"outcome", step.Outcome.String(),
		)
	}
	r.report.Steps = append(r.report.Steps, step)
}

func (r *run) skip(setting string) {
	r.record(Step{Setting: setting, Outcome: Skipped})
}

func (r *run) result(setting, feature, value string, err error) {
	step := Step{Setting: setting, Feature: feature, Value: value, Outcome: Applied}
	if err != nil {
		step.Outcome = Failed
		step.Err = err
	}
	r.record(step)
}

func (r *run) enum(setting string, names []string, value string) {
	if value == "" {
		r.skip(setting)
		return
	}
	used, err := r.dev.SetEnumAny(names, value)
	if used == "" {
		used = names[0]
	}
	r.result(setting, used, value, err)
}

func (r *run) floatAny(setting string, names []string, v *float64) {
	if v == nil {
		r.skip(setting)
		return
	}
	used, err := r.dev.SetFloatAny(names, *v)
	if used == "" {
		used = names[0]
	}
	r.result(setting, used, strconv.FormatFloat(*v, 'f', -1, 64), err)
}

func (r *run) setInt(setting, feature string, v int64) {
	r.result(setting, feature, strconv.FormatInt(v, 10), r.dev.SetInt(feature, v))
}

// Apply writes s to the device, best effort.
//
// Order:
//  1. Exposure time (ExposureTime, falling back to ExposureTimeAbs)
//  2. ExposureAuto, BalanceWhiteAuto, Gain (Gain, falling back to GainAbs)
//  3. Region of interest (see applyROI)
//  4. TriggerSelector, TriggerActivation, TriggerSource, TriggerMode
//
// A failing step is recorded and the sequence continues; Apply never aborts.
func Apply(dev Features, s settings.Settings) Report {
	r := &run{dev: dev}

	r.floatAny("exposure_time", exposureNames, s.ExposureTime)
	r.enum("exposure_auto", exposureAutoNames, string(s.ExposureAuto))
	r.enum("balance_white_auto", balanceWhiteAutoNames, string(s.BalanceWhiteAuto))
	r.floatAny("gain", gainNames, s.Gain)

	r.applyROI(s)

	// Selector first: the other trigger features are per-selector.
	r.enum("trigger_selector", triggerSelectorNames, string(s.TriggerSelector))
	r.enum("trigger_activation", triggerActivationNames, string(s.TriggerActivation))
	r.enum("trigger_source", triggerSourceNames, string(s.TriggerSource))
	r.enum("trigger_mode", triggerModeNames, string(s.TriggerMode))

	slog.Info("sequencer: settings applied",
		"applied", r.report.Count(Applied),
		"failed", r.report.Count(Failed),
		"skipped", r.report.Count(Skipped),
	)
	return r.report
}

// applyROI writes the region of interest.
//
// Offsets are zeroed first so any width/height up to the sensor maximum is
// accepted, then width and height are written, then the final offsets.
// ExtentMax reads WidthMax/HeightMax. OffsetCenter computes (max - size) / 2
// from the sensor maximum and the size read back from the device; if either
// cannot be read the offset falls back to 0.
func (r *run) applyROI(s settings.Settings) {
	r.setInt("offset_x", "OffsetX", 0)
	r.setInt("offset_y", "OffsetY", 0)

	r.extent("width", "Width", "WidthMax", s.Width)
	r.extent("height", "Height", "HeightMax", s.Height)

	r.offset("offset_x", "OffsetX", "Width", "WidthMax", s.OffsetX)
	r.offset("offset_y", "OffsetY", "Height", "HeightMax", s.OffsetY)
}

func (r *run) extent(setting, feature, maxFeature string, e settings.Extent) {
	v := int64(e)
	if e.IsMax() {
		limit, err := r.dev.Int(maxFeature)
		if err != nil {
			r.result(setting, maxFeature, "max", err)
			return
		}
		v = limit
	}
	r.setInt(setting, feature, v)
}

func (r *run) offset(setting, feature, sizeFeature, maxFeature string, o settings.Offset) {
	v := int64(o)
	if o.IsCenter() {
		v = r.center(sizeFeature, maxFeature)
	}
	r.setInt(setting, feature, v)
}

func (r *run) center(sizeFeature, maxFeature string) int64 {
	limit, err := r.dev.Int(maxFeature)
	if err != nil {
		slog.Warn("sequencer: cannot read sensor size, centering at 0",
			"feature", maxFeature,
			"error", err,
		)
		return 0
	}
	size, err := r.dev.Int(sizeFeature)
	if err != nil {
		slog.Warn("sequencer: cannot read ROI size, centering at 0",
			"feature", sizeFeature,
			"error", err,
		)
		return 0
	}
	if size >= limit {
		return 0
	}
	return (limit - size) / 2
}
