package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Extent is a ROI width or height in pixels, or ExtentMax.
type Extent int

// ExtentMax asks for the sensor maximum (WidthMax / HeightMax).
const ExtentMax Extent = -1

// Offset is a ROI offset in pixels, or OffsetCenter.
type Offset int

// OffsetCenter asks for the ROI to be centered on the sensor.
const OffsetCenter Offset = -1

func (e Extent) IsMax() bool    { return e == ExtentMax }
func (o Offset) IsCenter() bool { return o == OffsetCenter }

func (e Extent) String() string {
	if e.IsMax() {
		return "max"
	}
	return strconv.Itoa(int(e))
}

func (o Offset) String() string {
	if o.IsCenter() {
		return "center"
	}
	return strconv.Itoa(int(o))
}

func (e Extent) validate(field string) error {
	if e != ExtentMax && e <= 0 {
		return fmt.Errorf("settings: %s must be > 0 or \"max\", got %d", field, int(e))
	}
	return nil
}

func (o Offset) validate(field string) error {
	if o != OffsetCenter && o < 0 {
		return fmt.Errorf("settings: %s must be >= 0 or \"center\", got %d", field, int(o))
	}
	return nil
}

// parseROI accepts a decimal integer or the given keyword (case-insensitive).
func parseROI(s, keyword string, sentinel int) (int, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, keyword) {
		return sentinel, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("expected integer or %q, got %q", keyword, s)
	}
	return n, nil
}

// ParseExtent parses "max" or a pixel count.
func ParseExtent(s string) (Extent, error) {
	n, err := parseROI(s, "max", int(ExtentMax))
	return Extent(n), err
}

// ParseOffset parses "center" or a pixel offset.
func ParseOffset(s string) (Offset, error) {
	n, err := parseROI(s, "center", int(OffsetCenter))
	return Offset(n), err
}

func (e Extent) MarshalYAML() (interface{}, error) {
	if e.IsMax() {
		return "max", nil
	}
	return int(e), nil
}

func (e *Extent) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseExtent(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*e = v
	return nil
}

func (o Offset) MarshalYAML() (interface{}, error) {
	if o.IsCenter() {
		return "center", nil
	}
	return int(o), nil
}

func (o *Offset) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseOffset(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*o = v
	return nil
}

func (e Extent) MarshalJSON() ([]byte, error) {
	if e.IsMax() {
		return []byte(`"max"`), nil
	}
	return []byte(strconv.Itoa(int(e))), nil
}

func (e *Extent) UnmarshalJSON(data []byte) error {
	v, err := ParseExtent(unquote(data))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (o Offset) MarshalJSON() ([]byte, error) {
	if o.IsCenter() {
		return []byte(`"center"`), nil
	}
	return []byte(strconv.Itoa(int(o))), nil
}

func (o *Offset) UnmarshalJSON(data []byte) error {
	v, err := ParseOffset(unquote(data))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// unquote returns a JSON string's contents, or the raw token for numbers.
func unquote(data []byte) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
