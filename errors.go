package vimbacapture

import (
	"errors"

	"github.com/e7canasta/vimba-capture/device"
)

// Error taxonomy, usable with errors.Is / errors.As.
type (
	OpenError     = device.OpenError
	CommandError  = device.CommandError
	FormatError   = device.FormatError
	ResourceError = device.ResourceError
	TimeoutError  = device.TimeoutError
	Code          = device.Code
)

var (
	// ErrFlushing is returned by PullFrame when the host or the session is
	// shutting down. It is not a failure.
	ErrFlushing = device.ErrFlushing
	// ErrNotOpen is returned by operations that need Open first.
	ErrNotOpen = device.ErrNotOpen
	// ErrSessionActive is returned by StartSession when a session is running.
	ErrSessionActive = errors.New("vimba-capture: session already active")
)

// CodeOf extracts the native device code from err.
func CodeOf(err error) Code { return device.CodeOf(err) }
