package gsthost

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies GStreamer bus errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNegotiation indicates caps/format negotiation failures
	ErrCategoryNegotiation ErrorCategory = iota
	// ErrCategoryResource indicates the sink could not open or use a resource
	ErrCategoryResource
	// ErrCategoryStream indicates data-flow failures inside the pipeline
	ErrCategoryStream
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryStream:
		return "stream"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a bus error.
//
// Negotiation errors usually mean the camera was switched to a format the
// downstream sink cannot take; a new format has to be negotiated. Resource
// errors point at the sink (display, file). Stream errors are data-flow
// failures that a pipeline restart may clear.
//
// go-gst's GError does not expose the error domain, so classification is by
// message keywords.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

func classify(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	switch {
	case containsAny(combined, negotiationKeywords):
		return ErrCategoryNegotiation
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, streamKeywords):
		return ErrCategoryStream
	default:
		return ErrCategoryUnknown
	}
}

var negotiationKeywords = []string{
	"not-negotiated",
	"not negotiated",
	"negotiation",
	"caps",
	"format",
	"no converter",
}

var resourceKeywords = []string{
	"resource",
	"could not open",
	"could not write",
	"no space",
	"busy",
	"permission",
	"display",
}

var streamKeywords = []string{
	"internal data stream error",
	"data flow",
	"streaming stopped",
	"stream",
	"flow error",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
