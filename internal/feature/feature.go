// Package feature provides typed, named access to camera features.
//
// Every failure surfaces as *device.CommandError naming the feature and the
// operation, so callers never see a bare native code.
package feature

import (
	"errors"

	"github.com/e7canasta/vimba-capture/device"
)

// IO is the handle-bound feature surface of an open camera (device.Conn).
type IO interface {
	IntGet(name string) (int64, error)
	IntSet(name string, v int64) error
	FloatGet(name string) (float64, error)
	FloatSet(name string, v float64) error
	EnumGet(name string) (string, error)
	EnumSet(name string, v string) error
	EnumRange(name string) ([]string, error)
	StringGet(name string) (string, error)
	CommandRun(name string) error
	CommandIsDone(name string) (bool, error)
}

// Gateway wraps an IO with error normalization, candidate-name fallback and
// bounded command completion.
type Gateway struct {
	io      IO
	command CommandConfig
}

// New creates a gateway. A zero CommandConfig selects DefaultCommandConfig.
func New(io IO, cfg CommandConfig) *Gateway {
	return &Gateway{io: io, command: cfg.withDefaults()}
}

// wrap converts an SDK failure into a CommandError. Errors that already carry
// feature context pass through.
func wrap(err error, name, op string) error {
	if err == nil {
		return nil
	}
	var ce *device.CommandError
	if errors.As(err, &ce) {
		return err
	}
	return &device.CommandError{Feature: name, Op: op, Code: device.CodeOf(err)}
}

func (g *Gateway) Int(name string) (int64, error) {
	v, err := g.io.IntGet(name)
	return v, wrap(err, name, "get")
}

func (g *Gateway) SetInt(name string, v int64) error {
	return wrap(g.io.IntSet(name, v), name, "set")
}

func (g *Gateway) Float(name string) (float64, error) {
	v, err := g.io.FloatGet(name)
	return v, wrap(err, name, "get")
}

func (g *Gateway) SetFloat(name string, v float64) error {
	return wrap(g.io.FloatSet(name, v), name, "set")
}

func (g *Gateway) Enum(name string) (string, error) {
	v, err := g.io.EnumGet(name)
	return v, wrap(err, name, "get")
}

func (g *Gateway) SetEnum(name, v string) error {
	return wrap(g.io.EnumSet(name, v), name, "set")
}

// EnumRange returns the values the device currently accepts for an enum feature.
func (g *Gateway) EnumRange(name string) ([]string, error) {
	v, err := g.io.EnumRange(name)
	return v, wrap(err, name, "range")
}

// StringValue reads a string feature (DeviceID, DeviceModelName, ...).
func (g *Gateway) StringValue(name string) (string, error) {
	v, err := g.io.StringGet(name)
	return v, wrap(err, name, "get")
}

// SetFloatAny writes v to the first candidate the device knows. Only a
// NotFound result advances to the next name; any other failure is returned.
func (g *Gateway) SetFloatAny(candidates []string, v float64) (string, error) {
	return firstFound(candidates, func(name string) error { return g.SetFloat(name, v) })
}

// SetEnumAny is SetFloatAny for enum features.
func (g *Gateway) SetEnumAny(candidates []string, v string) (string, error) {
	return firstFound(candidates, func(name string) error { return g.SetEnum(name, v) })
}

// FloatAny reads the first candidate the device knows and returns its name.
func (g *Gateway) FloatAny(candidates []string) (string, float64, error) {
	var v float64
	used, err := firstFound(candidates, func(name string) error {
		var err error
		v, err = g.Float(name)
		return err
	})
	return used, v, err
}

// EnumAny is FloatAny for enum features.
func (g *Gateway) EnumAny(candidates []string) (string, string, error) {
	var v string
	used, err := firstFound(candidates, func(name string) error {
		var err error
		v, err = g.Enum(name)
		return err
	})
	return used, v, err
}

func firstFound(candidates []string, set func(name string) error) (string, error) {
	var err error
	for _, name := range candidates {
		err = set(name)
		if err == nil {
			return name, nil
		}
		if !device.IsNotFound(err) {
			return name, err
		}
	}
	if err == nil {
		err = &device.CommandError{Op: "set", Code: device.CodeNotFound}
	}
	return "", err
}
