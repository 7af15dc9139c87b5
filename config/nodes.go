package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/scalarwaves/oscquery/errors"
	"github.com/scalarwaves/oscquery/node"
	"github.com/scalarwaves/oscquery/osc"
	"github.com/scalarwaves/oscquery/value"
)

// NodeConfig declares one node of the initial tree. A leaf with a single param can use
// the flat type/value/min/max/clip/unit fields; several params go in Params. Missing
// parent containers are created on the way down.
type NodeConfig struct {
	Path        string `yaml:"path" json:"path"`
	Kind        string `yaml:"kind" json:"kind,omitempty"`
	Access      string `yaml:"access" json:"access,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`

	ParamConfig `yaml:",inline" json:",inline"`
	Params      []ParamConfig `yaml:"params" json:"params,omitempty"`
}

// ParamConfig declares one typed value.
type ParamConfig struct {
	Type  string `yaml:"type" json:"type,omitempty"`
	Value any    `yaml:"value" json:"value,omitempty"`
	Min   any    `yaml:"min" json:"min,omitempty"`
	Max   any    `yaml:"max" json:"max,omitempty"`
	Clip  string `yaml:"clip" json:"clip,omitempty"`
	Unit  string `yaml:"unit" json:"unit,omitempty"`
}

// NodeSpec is a validated NodeConfig.
type NodeSpec struct {
	Path        string
	Parent      string
	Name        string
	Kind        node.Kind
	Description string
	params      []func(value.Access) value.Param
}

// Tree is where Build adds nodes. *root.Root implements it.
type Tree interface {
	AddNode(n *node.Node, parent *node.Handle) (node.Handle, error)
	Resolve(path string) (node.Ref, bool)
}

// ParseNodes validates every entry without building anything.
func ParseNodes(cfgs []NodeConfig) ([]NodeSpec, error) {
	specs := make([]NodeSpec, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for i, c := range cfgs {
		spec, err := parseNode(c)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: nodes[%d] %q: %v", errors.ErrInvalidConfig, i, c.Path, err),
				"config", "ParseNodes", "parse node")
		}
		if seen[spec.Path] {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: nodes[%d]: duplicate path %q", errors.ErrInvalidConfig, i, spec.Path),
				"config", "ParseNodes", "parse node")
		}
		seen[spec.Path] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

// Build adds the declared nodes to t in order. Values are backed by atomic cells holding
// the declared initial value. It returns the handle of every declared node by path.
func Build(t Tree, cfgs []NodeConfig) (map[string]node.Handle, error) {
	specs, err := ParseNodes(cfgs)
	if err != nil {
		return nil, err
	}
	handles := make(map[string]node.Handle, len(specs))
	for _, spec := range specs {
		parent, err := ensureContainers(t, spec.Parent)
		if err != nil {
			return handles, err
		}
		n, err := spec.newNode()
		if err != nil {
			return handles, errors.Wrap(err, "config", "Build", "create "+spec.Path)
		}
		h, err := t.AddNode(n, parent)
		if err != nil {
			return handles, errors.Wrap(err, "config", "Build", "add "+spec.Path)
		}
		handles[spec.Path] = h
	}
	return handles, nil
}

func (s NodeSpec) newNode() (*node.Node, error) {
	access := s.Kind.Access()
	params := make([]value.Param, 0, len(s.params))
	for _, build := range s.params {
		params = append(params, build(access))
	}
	switch s.Kind {
	case node.KindGet:
		return node.NewGet(s.Name, s.Description, params...)
	case node.KindSet:
		return node.NewSet(s.Name, s.Description, nil, params...)
	case node.KindGetSet:
		return node.NewGetSet(s.Name, s.Description, nil, params...)
	default:
		return node.NewContainer(s.Name, s.Description)
	}
}

// ensureContainers resolves path, creating any missing containers. A nil handle means
// the root.
func ensureContainers(t Tree, path string) (*node.Handle, error) {
	if path == "/" {
		return nil, nil
	}
	if ref, ok := t.Resolve(path); ok {
		if ref.Node.Kind() != node.KindContainer {
			return nil, errors.WrapInvalid(errors.ErrNotAContainer, "config", "Build", "parent "+path)
		}
		h := ref.Handle
		return &h, nil
	}
	parentPath, name := splitPath(path)
	parent, err := ensureContainers(t, parentPath)
	if err != nil {
		return nil, err
	}
	c, err := node.NewContainer(name, "")
	if err != nil {
		return nil, err
	}
	h, err := t.AddNode(c, parent)
	if err != nil {
		return nil, errors.Wrap(err, "config", "Build", "add container "+path)
	}
	return &h, nil
}

func splitPath(path string) (parent, name string) {
	i := strings.LastIndexByte(path, '/')
	parent, name = path[:i], path[i+1:]
	if parent == "" {
		parent = "/"
	}
	return parent, name
}

func parseNode(c NodeConfig) (NodeSpec, error) {
	if !osc.ValidAddress(c.Path) || c.Path == "/" || osc.HasPattern(c.Path) {
		return NodeSpec{}, fmt.Errorf("path must be a literal OSC address below /")
	}
	spec := NodeSpec{Path: c.Path, Description: c.Description}
	spec.Parent, spec.Name = splitPath(c.Path)

	params := c.Params
	if c.Type != "" {
		if len(params) > 0 {
			return NodeSpec{}, fmt.Errorf("use either type or params, not both")
		}
		params = []ParamConfig{c.ParamConfig}
	}

	kind, err := parseKind(c.Kind, c.Access, len(params) > 0)
	if err != nil {
		return NodeSpec{}, err
	}
	spec.Kind = kind
	if kind == node.KindContainer && len(params) > 0 {
		return NodeSpec{}, fmt.Errorf("containers cannot have params")
	}
	if (kind == node.KindGet || kind == node.KindGetSet) && len(params) == 0 {
		return NodeSpec{}, fmt.Errorf("%s nodes need at least one param", kind)
	}

	for i, p := range params {
		build, err := parseParam(p)
		if err != nil {
			return NodeSpec{}, fmt.Errorf("param %d: %w", i, err)
		}
		spec.params = append(spec.params, build)
	}
	return spec, nil
}

func parseKind(kind, access string, hasParams bool) (node.Kind, error) {
	if kind == "" {
		kind = access
	}
	switch strings.ToLower(kind) {
	case "":
		if hasParams {
			return node.KindGetSet, nil
		}
		return node.KindContainer, nil
	case "container", "none":
		return node.KindContainer, nil
	case "get", "r", "read":
		return node.KindGet, nil
	case "set", "w", "write":
		return node.KindSet, nil
	case "getset", "rw", "readwrite":
		return node.KindGetSet, nil
	}
	return node.KindContainer, fmt.Errorf("unknown kind %q", kind)
}

type paramBuilder = func(value.Access) value.Param

func parseParam(p ParamConfig) (paramBuilder, error) {
	// 'T' and 'F' are case-sensitive OSC tags; 't' is a time tag.
	if p.Type == "T" || p.Type == "F" {
		return typedParam(p, toBool)
	}
	switch strings.ToLower(p.Type) {
	case "i", "int", "int32":
		return typedParam(p, toInt32)
	case "f", "float", "float32":
		return typedParam(p, toFloat32)
	case "s", "string":
		return typedParam(p, toString)
	case "h", "long", "int64":
		return typedParam(p, toInt64)
	case "d", "double", "float64":
		return typedParam(p, toFloat64)
	case "c", "char":
		return typedParam(p, toChar)
	case "t", "timetag":
		return typedParam(p, toTimeTag)
	case "m", "midi":
		return typedParam(p, toMIDI)
	case "bool", "boolean":
		return typedParam(p, toBool)
	}
	return nil, fmt.Errorf("unknown type %q", p.Type)
}

func typedParam[T value.Scalar](p ParamConfig, conv func(any) (T, error)) (paramBuilder, error) {
	var initial T
	if p.Value != nil {
		v, err := conv(p.Value)
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		initial = v
	}
	var lo, hi *T
	if p.Min != nil {
		v, err := conv(p.Min)
		if err != nil {
			return nil, fmt.Errorf("min: %w", err)
		}
		lo = &v
	}
	if p.Max != nil {
		v, err := conv(p.Max)
		if err != nil {
			return nil, fmt.Errorf("max: %w", err)
		}
		hi = &v
	}
	clip, ok := value.ParseClipMode(strings.ToLower(p.Clip))
	if !ok {
		return nil, fmt.Errorf("unknown clip mode %q", p.Clip)
	}
	unit := p.Unit

	return func(access value.Access) value.Param {
		cell := value.NewCell(initial)
		var b *value.Builder[T]
		switch access {
		case value.AccessGet:
			b = value.NewGet[T](cell)
		case value.AccessSet:
			b = value.NewSet[T](cell)
		default:
			b = value.NewGetSet[T](cell)
		}
		if lo != nil {
			b.WithMin(*lo)
		}
		if hi != nil {
			b.WithMax(*hi)
		}
		v := b.WithClipMode(clip).WithUnit(unit).Build()
		cell.Set(v.Clamp(initial))
		return v
	}, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
		if x != math.Trunc(x) || x >= 1<<63 || x < -(1<<63) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("want an integer, got %T", v)
}

func toInt32(v any) (int32, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, fmt.Errorf("%d overflows int32", n)
	}
	return int32(n), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("want a number, got %T", v)
}

func toFloat32(v any) (float32, error) {
	f, err := toFloat64(v)
	return float32(f), err
}

func toString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("want a string, got %T", v)
}

func toChar(v any) (osc.Char, error) {
	switch x := v.(type) {
	case string:
		r := []rune(x)
		if len(r) != 1 {
			return 0, fmt.Errorf("want a single character, got %q", x)
		}
		return osc.Char(r[0]), nil
	case int:
		return osc.Char(x), nil
	}
	return 0, fmt.Errorf("want a character, got %T", v)
}

// toTimeTag accepts the packed 64-bit NTP form.
func toTimeTag(v any) (osc.TimeTag, error) {
	var u uint64
	switch x := v.(type) {
	case int:
		if x < 0 {
			return osc.TimeTag{}, fmt.Errorf("negative time tag")
		}
		u = uint64(x)
	case uint64:
		u = x
	default:
		return osc.TimeTag{}, fmt.Errorf("want a 64-bit NTP time, got %T", v)
	}
	return osc.TimeTag{Seconds: uint32(u >> 32), Fraction: uint32(u)}, nil
}

// toMIDI accepts [port, status, data1, data2].
func toMIDI(v any) (osc.MIDI, error) {
	list, ok := v.([]any)
	if !ok || len(list) != 4 {
		return osc.MIDI{}, fmt.Errorf("want [port, status, data1, data2]")
	}
	var b [4]uint8
	for i, e := range list {
		n, err := toInt64(e)
		if err != nil || n < 0 || n > 255 {
			return osc.MIDI{}, fmt.Errorf("midi byte %d out of range", i)
		}
		b[i] = uint8(n)
	}
	return osc.MIDI{Port: b[0], Status: b[1], Data1: b[2], Data2: b[3]}, nil
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("want true or false, got %T", v)
}
