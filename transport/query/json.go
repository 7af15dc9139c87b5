package query

import (
	"math"

	"github.com/scalarwaves/oscquery/node"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/value"
)

// Attribute names of the OSCQuery namespace document.
const (
	AttrFullPath    = "FULL_PATH"
	AttrContents    = "CONTENTS"
	AttrDescription = "DESCRIPTION"
	AttrType        = "TYPE"
	AttrAccess      = "ACCESS"
	AttrValue       = "VALUE"
	AttrRange       = "RANGE"
	AttrClipMode    = "CLIPMODE"
	AttrUnit        = "UNIT"
	AttrHostInfo    = "HOST_INFO"
)

// Node is the JSON form of one node and its subtree.
type Node struct {
	FullPath    string          `json:"FULL_PATH"`
	Description string          `json:"DESCRIPTION,omitempty"`
	Contents    map[string]Node `json:"CONTENTS,omitempty"`
	Type        string          `json:"TYPE,omitempty"`
	Access      value.Access    `json:"ACCESS"`
	Value       []any           `json:"VALUE,omitempty"`
	Range       []Range         `json:"RANGE,omitempty"`
	ClipMode    []string        `json:"CLIPMODE,omitempty"`
	Unit        []string        `json:"UNIT,omitempty"`
}

// Range is one RANGE entry. Unbounded sides are omitted.
type Range struct {
	Min any `json:"MIN,omitempty"`
	Max any `json:"MAX,omitempty"`
}

// HostInfo is the HOST_INFO document.
type HostInfo struct {
	Name         string          `json:"NAME"`
	OSCIP        string          `json:"OSC_IP,omitempty"`
	OSCPort      int             `json:"OSC_PORT,omitempty"`
	OSCTransport string          `json:"OSC_TRANSPORT"`
	WSIP         string          `json:"WS_IP,omitempty"`
	WSPort       int             `json:"WS_PORT,omitempty"`
	Extensions   map[string]bool `json:"EXTENSIONS"`
}

// Extensions lists the optional OSCQuery features this server implements.
func Extensions() map[string]bool {
	return map[string]bool{
		"ACCESS":       true,
		"VALUE":        true,
		"RANGE":        true,
		"CLIPMODE":     true,
		"UNIT":         true,
		"DESCRIPTION":  true,
		"TYPE":         true,
		"FULL_PATH":    true,
		"CONTENTS":     true,
		"LISTEN":       true,
		"PATH_ADDED":   true,
		"PATH_REMOVED": true,
		"PATH_CHANGED": true,
		"PATH_RENAMED": false,
		"TAGS":         false,
		"CRITICAL":     false,
		"OVERLOADS":    false,
		"HTML":         false,
	}
}

// FromSnapshot converts a tree snapshot into its JSON form.
func FromSnapshot(s node.Snapshot) Node {
	n := Node{
		FullPath:    s.Path,
		Description: s.Description,
		Access:      s.Kind.Access(),
	}
	if len(s.Children) > 0 {
		n.Contents = make(map[string]Node, len(s.Children))
		for _, c := range s.Children {
			n.Contents[c.Name] = FromSnapshot(c)
		}
	}
	if len(s.Params) == 0 {
		return n
	}

	var (
		tags     []byte
		hasRange bool
		hasUnit  bool
	)
	readable := s.Kind.Access().Readable()
	for _, p := range s.Params {
		tags = append(tags, p.Type)
		r := Range{Min: jsonValue(p.Min), Max: jsonValue(p.Max)}
		hasRange = hasRange || r.Min != nil || r.Max != nil
		n.Range = append(n.Range, r)
		n.ClipMode = append(n.ClipMode, p.ClipMode.String())
		hasUnit = hasUnit || p.Unit != ""
		n.Unit = append(n.Unit, p.Unit)
		if readable {
			n.Value = append(n.Value, jsonValue(p.Value))
		}
	}
	n.Type = string(tags)
	if !hasRange {
		n.Range, n.ClipMode = nil, nil
	}
	if !hasUnit {
		n.Unit = nil
	}
	return n
}

// jsonValue maps an OSC argument to something encoding/json renders the way OSCQuery
// clients expect. Non-finite floats become null.
func jsonValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case osc.Char:
		return string(rune(x))
	case osc.MIDI:
		return []int{int(x.Port), int(x.Status), int(x.Data1), int(x.Data2)}
	case osc.TimeTag:
		return uint64(x.Seconds)<<32 | uint64(x.Fraction)
	default:
		return x
	}
}

// attribute extracts a single attribute of n. ok is false when the node has no such
// attribute.
func attribute(n Node, name string) (v any, ok bool) {
	switch name {
	case AttrFullPath:
		return n.FullPath, true
	case AttrDescription:
		return n.Description, n.Description != ""
	case AttrContents:
		return n.Contents, n.Contents != nil
	case AttrType:
		return n.Type, n.Type != ""
	case AttrAccess:
		return n.Access, true
	case AttrValue:
		return n.Value, n.Value != nil
	case AttrRange:
		return n.Range, n.Range != nil
	case AttrClipMode:
		return n.ClipMode, n.ClipMode != nil
	case AttrUnit:
		return n.Unit, n.Unit != nil
	}
	return nil, false
}

func knownAttribute(name string) bool {
	switch name {
	case AttrFullPath, AttrDescription, AttrContents, AttrType, AttrAccess,
		AttrValue, AttrRange, AttrClipMode, AttrUnit:
		return true
	}
	return false
}
