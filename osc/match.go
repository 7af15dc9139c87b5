package osc

import (
	"slices"
	"strings"
)

const patternChars = "*?[]{}"

// HasPattern reports whether s contains OSC address pattern characters.
func HasPattern(s string) bool {
	return strings.ContainsAny(s, patternChars)
}

// ValidAddress reports whether addr is a well formed OSC address: it begins with '/'
// and contains no empty segments except for the root address "/".
func ValidAddress(addr string) bool {
	if addr == "/" {
		return true
	}
	if !strings.HasPrefix(addr, "/") || strings.HasSuffix(addr, "/") {
		return false
	}
	return !strings.Contains(addr, "//")
}

// Segments splits an address into its path segments. The root address has none.
func Segments(addr string) []string {
	trimmed := strings.Trim(addr, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// MatchSegment matches a single address segment against one pattern segment.
//
//	?        any single character
//	*        any sequence of characters, including none
//	[abc]    any character in the set; ranges a-z; leading ! negates
//	{ab,cd}  any of the comma separated alternatives
//
// Matching tracks the set of name offsets reachable after each pattern element, so its
// cost is bounded by len(pattern)*len(name) whatever the pattern looks like.
func MatchSegment(pattern, name string) bool {
	reach := make([]bool, len(name)+1)
	next := make([]bool, len(name)+1)
	reach[0] = true

	for p := 0; p < len(pattern); {
		clear(next)
		switch pattern[p] {
		case '*':
			for p < len(pattern) && pattern[p] == '*' {
				p++
			}
			first := slices.Index(reach, true)
			if first < 0 {
				return false
			}
			for i := first; i <= len(name); i++ {
				next[i] = true
			}

		case '{':
			end := strings.IndexByte(pattern[p:], '}')
			if end < 0 {
				return false
			}
			alts := strings.Split(pattern[p+1:p+end], ",")
			for i, ok := range reach {
				if !ok {
					continue
				}
				for _, alt := range alts {
					if strings.HasPrefix(name[i:], alt) {
						next[i+len(alt)] = true
					}
				}
			}
			p += end + 1

		default:
			var accept func(c byte) bool
			switch pattern[p] {
			case '?':
				accept = func(byte) bool { return true }
				p++
			case '[':
				end := strings.IndexByte(pattern[p:], ']')
				if end < 0 {
					return false
				}
				set := pattern[p+1 : p+end]
				accept = func(c byte) bool { return matchSet(set, c) }
				p += end + 1
			default:
				lit := pattern[p]
				accept = func(c byte) bool { return c == lit }
				p++
			}
			for i := 0; i < len(name); i++ {
				if reach[i] && accept(name[i]) {
					next[i+1] = true
				}
			}
		}

		reach, next = next, reach
		if !slices.Contains(reach, true) {
			return false
		}
	}
	return reach[len(name)]
}

func matchSet(set string, c byte) bool {
	negate := false
	if strings.HasPrefix(set, "!") {
		negate = true
		set = set[1:]
	}

	matched := false
	for i := 0; i < len(set); i++ {
		if i+2 < len(set) && set[i+1] == '-' {
			lo, hi := set[i], set[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 2
			continue
		}
		if set[i] == c {
			matched = true
		}
	}
	return matched != negate
}
