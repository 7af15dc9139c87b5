// Package value provides typed, access-mode-tagged parameter storage for leaf nodes.
//
// A Value[T] couples a backing store (an atomic Cell, caller supplied callbacks, or
// anything implementing Getter/Setter) with an access mode, an optional range, a clip
// policy and a unit label. Type and access mode are fixed once the value is built.
package value

// Access is the access mode of a value. The numeric values match the OSCQuery ACCESS
// attribute.
type Access int

const (
	// AccessNone means the value is neither readable nor writable.
	AccessNone Access = iota
	// AccessGet values are read-only; inbound writes are dropped.
	AccessGet
	// AccessSet values are write-only.
	AccessSet
	// AccessGetSet values are readable and writable.
	AccessGetSet
)

// Readable reports whether the current value can be read.
func (a Access) Readable() bool { return a == AccessGet || a == AccessGetSet }

// Writable reports whether the value accepts writes.
func (a Access) Writable() bool { return a == AccessSet || a == AccessGetSet }

func (a Access) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessGet:
		return "get"
	case AccessSet:
		return "set"
	case AccessGetSet:
		return "getset"
	default:
		return "unknown"
	}
}

// ParseAccess parses the String form of an access mode.
func ParseAccess(s string) (Access, bool) {
	switch s {
	case "none":
		return AccessNone, true
	case "get":
		return AccessGet, true
	case "set":
		return AccessSet, true
	case "getset":
		return AccessGetSet, true
	default:
		return AccessNone, false
	}
}

// ClipMode selects which range bounds a write is clamped to.
type ClipMode int

const (
	// ClipNone stores out-of-range writes verbatim.
	ClipNone ClipMode = iota
	// ClipLow clamps to the lower bound only.
	ClipLow
	// ClipHigh clamps to the upper bound only.
	ClipHigh
	// ClipBoth clamps to both bounds.
	ClipBoth
)

// String returns the OSCQuery CLIPMODE spelling.
func (m ClipMode) String() string {
	switch m {
	case ClipNone:
		return "none"
	case ClipLow:
		return "low"
	case ClipHigh:
		return "high"
	case ClipBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseClipMode parses the OSCQuery CLIPMODE spelling.
func ParseClipMode(s string) (ClipMode, bool) {
	switch s {
	case "", "none":
		return ClipNone, true
	case "low":
		return ClipLow, true
	case "high":
		return ClipHigh, true
	case "both":
		return ClipBoth, true
	default:
		return ClipNone, false
	}
}

func (m ClipMode) clampsLow() bool  { return m == ClipLow || m == ClipBoth }
func (m ClipMode) clampsHigh() bool { return m == ClipHigh || m == ClipBoth }
