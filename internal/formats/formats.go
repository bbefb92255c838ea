// Package formats maps device pixel-format names to the generic media format
// names used by GStreamer caps.
package formats

import (
	"fmt"
	"strings"
)

// Family groups formats by caps media type.
type Family int

const (
	// Raw covers mono, RGB and YUV layouts (video/x-raw).
	Raw Family = iota
	// Bayer covers color mosaic layouts (video/x-bayer).
	Bayer
)

func (f Family) String() string {
	switch f {
	case Raw:
		return "raw"
	case Bayer:
		return "bayer"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Entry is one row of the catalog.
type Entry struct {
	Vendor  string
	Generic string
	Family  Family
}

// MediaType returns the caps media type for the entry's family.
func (e Entry) MediaType() string {
	if e.Family == Bayer {
		return "video/x-bayer"
	}
	return "video/x-raw"
}

// Caps renders a fixed caps string for this format at the given geometry.
// The framerate is variable (0/1): triggered cameras deliver at irregular intervals.
func (e Entry) Caps(width, height int) string {
	return fmt.Sprintf("%s,format=%s,width=%d,height=%d,framerate=0/1",
		e.MediaType(), e.Generic, width, height)
}

// table is ordered: when several vendor names share a generic name the first
// one wins for generic lookups.
var table = []Entry{
	{"Mono8", "GRAY8", Raw},
	{"Mono10", "GRAY16_LE", Raw},
	{"Mono12", "GRAY16_LE", Raw},
	{"Mono14", "GRAY16_LE", Raw},
	{"Mono16", "GRAY16_LE", Raw},
	{"RGB8", "RGB", Raw},
	{"RGB8Packed", "RGB", Raw},
	{"BGR8", "BGR", Raw},
	{"BGR8Packed", "BGR", Raw},
	{"Argb8", "ARGB", Raw},
	{"Rgba8", "RGBA", Raw},
	{"Bgra8", "BGRA", Raw},
	{"Yuv411", "IYU1", Raw},
	{"YUV411Packed", "IYU1", Raw},
	{"YCbCr411_8_CbYYCrYY", "IYU1", Raw},
	{"Yuv422", "UYVY", Raw},
	{"YUV422Packed", "UYVY", Raw},
	{"YCbCr422_8_CbYCrY", "UYVY", Raw},
	{"Yuv444", "IYU2", Raw},
	{"YUV444Packed", "IYU2", Raw},
	{"YCbCr8_CbYCr", "IYU2", Raw},
	{"BayerGR8", "grbg", Bayer},
	{"BayerRG8", "rggb", Bayer},
	{"BayerGB8", "gbrg", Bayer},
	{"BayerBG8", "bggr", Bayer},
}

// ByVendor looks up the entry for a device pixel-format name.
func ByVendor(vendor string) (Entry, bool) {
	for _, e := range table {
		if e.Vendor == vendor {
			return e, true
		}
	}
	return Entry{}, false
}

// ByGeneric looks up the first entry with the given generic name. When
// supported is non-nil, only vendor names it contains are considered, so a
// device that lacks Mono10 but has Mono12 still resolves GRAY16_LE.
func ByGeneric(generic string, supported []string) (Entry, bool) {
	var allowed map[string]struct{}
	if supported != nil {
		allowed = make(map[string]struct{}, len(supported))
		for _, s := range supported {
			allowed[s] = struct{}{}
		}
	}

	for _, e := range table {
		if e.Generic != generic {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[e.Vendor]; !ok {
				continue
			}
		}
		return e, true
	}
	return Entry{}, false
}

// Supported filters a device enum range down to the entries the catalog
// knows, preserving the device's order. Unknown vendor names are ignored.
func Supported(vendorNames []string) []Entry {
	out := make([]Entry, 0, len(vendorNames))
	for _, name := range vendorNames {
		if e, ok := ByVendor(name); ok {
			out = append(out, e)
		}
	}
	return out
}

// Split partitions entries into raw and Bayer generic-name lists, without
// duplicates.
func Split(entries []Entry) (raw, bayer []string) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Generic]; dup {
			continue
		}
		seen[e.Generic] = struct{}{}
		if e.Family == Bayer {
			bayer = append(bayer, e.Generic)
		} else {
			raw = append(raw, e.Generic)
		}
	}
	return raw, bayer
}

// IsBayerVendor reports whether a vendor name denotes a mosaic layout, even
// one the catalog does not list (BayerRG12 etc).
func IsBayerVendor(vendor string) bool {
	return strings.HasPrefix(vendor, "Bayer")
}
