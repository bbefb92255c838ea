package sequencer

import (
	"log/slog"
	"strconv"

	"github.com/e7canasta/vimba-capture/settings"
)

// Reader is the feature surface ReadBack reads through (feature.Gateway).
type Reader interface {
	Int(name string) (int64, error)
	FloatAny(candidates []string) (string, float64, error)
	EnumAny(candidates []string) (string, string, error)
}

// ReadBack returns base with every device-backed setting replaced by the
// value the camera holds now, using the same candidate names as Apply.
//
// Values the camera adjusts on its own (auto exposure, clamped ROI) show up
// here and not in the stored snapshot. A setting that cannot be read keeps
// its value from base and is recorded as Failed; a read value is Applied.
// The incomplete-frame policy is not a device feature and is kept as is.
func ReadBack(dev Reader, base settings.Settings) (settings.Settings, Report) {
	out := base.Clone()
	var report Report

	record := func(setting, feature, value string, err error) bool {
		step := Step{Setting: setting, Feature: feature, Value: value, Outcome: Applied}
		if err != nil {
			step.Outcome = Failed
			step.Err = err
			slog.Debug("sequencer: read back failed", "setting", setting, "error", err)
		}
		report.Steps = append(report.Steps, step)
		return err == nil
	}

	readFloat := func(setting string, names []string, dst **float64) {
		used, v, err := dev.FloatAny(names)
		if used == "" {
			used = names[0]
		}
		if record(setting, used, strconv.FormatFloat(v, 'f', -1, 64), err) {
			*dst = settings.Float(v)
		}
	}
	readEnum := func(setting string, names []string, set func(string)) {
		used, v, err := dev.EnumAny(names)
		if used == "" {
			used = names[0]
		}
		if record(setting, used, v, err) {
			set(v)
		}
	}
	readInt := func(setting, feature string, set func(int)) {
		v, err := dev.Int(feature)
		if record(setting, feature, strconv.FormatInt(v, 10), err) {
			set(int(v))
		}
	}

	readFloat("exposure_time", exposureNames, &out.ExposureTime)
	readEnum("exposure_auto", exposureAutoNames, func(v string) { out.ExposureAuto = settings.AutoMode(v) })
	readEnum("balance_white_auto", balanceWhiteAutoNames, func(v string) { out.BalanceWhiteAuto = settings.AutoMode(v) })
	readFloat("gain", gainNames, &out.Gain)

	readInt("offset_x", "OffsetX", func(v int) { out.OffsetX = settings.Offset(v) })
	readInt("offset_y", "OffsetY", func(v int) { out.OffsetY = settings.Offset(v) })
	readInt("width", "Width", func(v int) { out.Width = settings.Extent(v) })
	readInt("height", "Height", func(v int) { out.Height = settings.Extent(v) })

	readEnum("trigger_selector", triggerSelectorNames, func(v string) { out.TriggerSelector = settings.TriggerSelector(v) })
	readEnum("trigger_activation", triggerActivationNames, func(v string) { out.TriggerActivation = settings.TriggerActivation(v) })
	readEnum("trigger_source", triggerSourceNames, func(v string) { out.TriggerSource = settings.TriggerSource(v) })
	readEnum("trigger_mode", triggerModeNames, func(v string) { out.TriggerMode = settings.TriggerMode(v) })

	return out, report
}
