package gstenc

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryResource indicates missing plugins, memory or file failures
	ErrCategoryResource ErrorCategory = iota
	// ErrCategoryNegotiation indicates caps/format negotiation failures
	ErrCategoryNegotiation
	// ErrCategoryFlow indicates data-flow failures (not-linked, flushing, encode errors)
	ErrCategoryFlow
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryFlow:
		return "flow"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes an encode pipeline error for telemetry
//
// go-gst's GError does not expose Domain(), so classification relies on
// keywords in the message and debug string, most specific first.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

func classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, negotiationKeywords):
		return ErrCategoryNegotiation
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, flowKeywords):
		return ErrCategoryFlow
	default:
		return ErrCategoryUnknown
	}
}

var negotiationKeywords = []string{
	"not negotiated",
	"negotiation",
	"caps",
	"format",
}

var resourceKeywords = []string{
	"missing plugin",
	"no such element",
	"could not open",
	"memory",
	"allocate",
	"permission",
}

var flowKeywords = []string{
	"not-linked",
	"not linked",
	"flushing",
	"internal data stream error",
	"encode",
	"x264",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
