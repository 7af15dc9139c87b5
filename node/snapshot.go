package node

import "github.com/scalarwaves/oscquery/value"

// ParamInfo describes one param of a node as seen by a reader.
type ParamInfo struct {
	Type     byte
	Access   value.Access
	Value    any // nil when the param is not readable
	Min      any
	Max      any
	ClipMode value.ClipMode
	Unit     string
}

// Snapshot is a point-in-time copy of a subtree, safe to use after the tree lock has been
// released.
type Snapshot struct {
	Path        string
	Name        string
	Description string
	Kind        Kind
	Params      []ParamInfo
	Children    []Snapshot
}

// Snapshot copies the subtree at path, reading current values.
func (g *Graph) Snapshot(path string) (Snapshot, bool) {
	r, ok := g.Resolve(path)
	if !ok {
		return Snapshot{}, false
	}
	return g.snapshot(r.Handle.index), true
}

func (g *Graph) snapshot(idx uint32) Snapshot {
	s := &g.slots[idx]
	snap := Snapshot{
		Path:        s.path,
		Name:        s.node.name,
		Description: s.node.description,
		Kind:        s.node.kind,
	}
	for _, p := range s.node.params {
		info := ParamInfo{
			Type:     p.TypeTag(),
			Access:   p.Access(),
			ClipMode: p.ClipMode(),
			Unit:     p.Unit(),
		}
		info.Min, info.Max = p.Range()
		if arg, ok := p.Arg(); ok {
			info.Value = arg
		}
		snap.Params = append(snap.Params, info)
	}
	for _, c := range s.children {
		snap.Children = append(snap.Children, g.snapshot(c))
	}
	return snap
}
