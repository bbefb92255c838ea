package device

import (
	"errors"
	"fmt"
	"time"
)

// Code is a device-native result code.
type Code int

const (
	CodeSuccess Code = iota
	CodeInternalFault
	CodeAPINotStarted
	CodeNotFound
	CodeBadHandle
	CodeDeviceNotOpen
	CodeInvalidAccess
	CodeBadParameter
	CodeStructSize
	CodeMoreData
	CodeWrongType
	CodeInvalidValue
	CodeTimeout
	CodeOther
	CodeResources
	CodeInvalidCall
	CodeNoTL
	CodeNotImplemented
	CodeNotSupported
)

var codeMessages = map[Code]string{
	CodeSuccess:        "success",
	CodeInternalFault:  "unexpected fault in API or driver",
	CodeAPINotStarted:  "API not started",
	CodeNotFound:       "not found",
	CodeBadHandle:      "invalid handle",
	CodeDeviceNotOpen:  "device not open",
	CodeInvalidAccess:  "invalid access",
	CodeBadParameter:   "bad parameter",
	CodeStructSize:     "wrong library version",
	CodeMoreData:       "more data returned than memory provided",
	CodeWrongType:      "wrong type",
	CodeInvalidValue:   "invalid value",
	CodeTimeout:        "timeout",
	CodeOther:          "other error",
	CodeResources:      "resource not available",
	CodeInvalidCall:    "invalid call",
	CodeNoTL:           "transport layer not loaded",
	CodeNotImplemented: "not implemented",
	CodeNotSupported:   "not supported",
}

// String returns the human-readable message for the code
func (c Code) String() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown code %d", int(c))
}

// Error is a raw SDK failure carrying a native code.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	return "device: " + e.Code.String()
}

// CodeOf extracts the native code from err, CodeOther if none is present.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeOther
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == CodeNotFound
}

// ErrFlushing signals that the host is stopping and no frame will be produced.
// It is not a failure.
var ErrFlushing = errors.New("device: flushing")

// ErrNotOpen is returned by operations that need an open camera.
var ErrNotOpen = errors.New("device: camera not open")

// OpenError reports that a camera could not be opened.
type OpenError struct {
	CameraID string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("device: open camera %q: %v", e.CameraID, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// CommandError reports a failed feature get, set or command run.
type CommandError struct {
	Feature string
	Op      string
	Code    Code
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("device: %s %q: %s", e.Op, e.Feature, e.Code)
}

// FormatError reports that no catalog entry matches a requested or offered format.
type FormatError struct {
	Format string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("device: no pixel format matches %q", e.Format)
}

// ResourceError reports a buffer allocation or announce failure.
type ResourceError struct {
	Slot int
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("device: buffer slot %d: %v", e.Slot, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// TimeoutError reports that a command did not signal completion in time.
type TimeoutError struct {
	Feature string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device: command %q not done after %v", e.Feature, e.After)
}
