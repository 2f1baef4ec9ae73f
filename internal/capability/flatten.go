package capability

import "sort"

// Flat is a flattened capability map keyed by dotted path.
type Flat map[string]bool

// Keys returns the paths of f in lexicographic order.
func (f Flat) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entry is one flattened capability.
type Entry struct {
	Path  string
	Value bool
}

// Entries walks t depth-first, visiting branch keys in lexicographic order,
// and returns one Entry per leaf. An empty Branch yields no entries.
func Entries(t Tree) ([]Entry, error) {
	switch t.kind {
	case kindBranch:
	case kindLeaf:
		return nil, ErrAmbiguousTopLevelLeaf
	default:
		return nil, malformed("", "zero-value node")
	}
	out := make([]Entry, 0, len(t.children))
	walk("", t, &out)
	return out, nil
}

func walk(path string, t Tree, out *[]Entry) {
	if t.kind == kindLeaf {
		*out = append(*out, Entry{Path: path, Value: t.value})
		return
	}
	for _, k := range t.Keys() {
		walk(join(path, k), t.children[k], out)
	}
}

// Flatten reduces t to a fresh Flat map. The root must be a Branch.
func Flatten(t Tree) (Flat, error) {
	entries, err := Entries(t)
	if err != nil {
		return nil, err
	}
	flat := make(Flat, len(entries))
	for _, e := range entries {
		flat[e.Path] = e.Value
	}
	return flat, nil
}

// MustFlatten is Flatten for trees known to have a Branch root.
func MustFlatten(t Tree) Flat {
	f, err := Flatten(t)
	if err != nil {
		panic(err)
	}
	return f
}
