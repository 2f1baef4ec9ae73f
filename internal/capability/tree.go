package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Separator joins branch keys into a flattened path.
const Separator = "."

type kind uint8

const (
	kindInvalid kind = iota
	kindLeaf
	kindBranch
)

// Tree is an immutable node of a capability namespace: either a Leaf holding a
// boolean flag or a Branch mapping names to further nodes.
//
// The zero Tree is invalid. Build trees with Leaf, Branch or FromMap.
type Tree struct {
	kind     kind
	value    bool
	children map[string]Tree
}

// Leaf returns a node holding a single flag.
func Leaf(v bool) Tree {
	return Tree{kind: kindLeaf, value: v}
}

// Branch returns a node with the given children. The map is copied.
//
// Branch panics if a key is empty, contains Separator, or maps to an invalid
// Tree. Use FromMap when the input is not a trusted literal.
func Branch(children map[string]Tree) Tree {
	t, err := newBranch("", children)
	if err != nil {
		panic(err)
	}
	return t
}

func newBranch(path string, children map[string]Tree) (Tree, error) {
	out := make(map[string]Tree, len(children))
	for k, child := range children {
		if err := checkKey(path, k); err != nil {
			return Tree{}, err
		}
		if child.kind == kindInvalid {
			return Tree{}, malformed(join(path, k), "zero-value node")
		}
		out[k] = child
	}
	return Tree{kind: kindBranch, children: out}, nil
}

// FromMap validates a nested literal and converts it into a Branch.
//
// Values may be bool, Tree, map[string]bool or map[string]any (recursively).
// Any other value type yields a *MalformedError.
func FromMap(m map[string]any) (Tree, error) {
	return fromMap("", m)
}

// MustFromMap is FromMap for literals known to be well formed.
func MustFromMap(m map[string]any) Tree {
	t, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return t
}

func fromMap(path string, m map[string]any) (Tree, error) {
	children := make(map[string]Tree, len(m))
	for k, raw := range m {
		if err := checkKey(path, k); err != nil {
			return Tree{}, err
		}
		child, err := fromValue(join(path, k), raw)
		if err != nil {
			return Tree{}, err
		}
		children[k] = child
	}
	return Tree{kind: kindBranch, children: children}, nil
}

func fromValue(path string, raw any) (Tree, error) {
	switch v := raw.(type) {
	case bool:
		return Leaf(v), nil
	case Tree:
		if v.kind == kindInvalid {
			return Tree{}, malformed(path, "zero-value node")
		}
		return v, nil
	case map[string]bool:
		children := make(map[string]Tree, len(v))
		for k, b := range v {
			if err := checkKey(path, k); err != nil {
				return Tree{}, err
			}
			children[k] = Leaf(b)
		}
		return Tree{kind: kindBranch, children: children}, nil
	case map[string]any:
		return fromMap(path, v)
	case nil:
		return Tree{}, malformed(path, "null value")
	default:
		return Tree{}, malformed(path, "unsupported value type %T", raw)
	}
}

func checkKey(path, key string) error {
	if key == "" {
		return malformed(path, "empty key")
	}
	if strings.Contains(key, Separator) {
		return malformed(path, "key %q contains %q", key, Separator)
	}
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + Separator + key
}

// IsLeaf reports whether t is a Leaf.
func (t Tree) IsLeaf() bool { return t.kind == kindLeaf }

// IsBranch reports whether t is a Branch.
func (t Tree) IsBranch() bool { return t.kind == kindBranch }

// IsValid reports whether t was built by a constructor.
func (t Tree) IsValid() bool { return t.kind != kindInvalid }

// Value returns the flag of a Leaf. ok is false for anything else.
func (t Tree) Value() (value bool, ok bool) {
	if t.kind != kindLeaf {
		return false, false
	}
	return t.value, true
}

// Child returns the named child of a Branch.
func (t Tree) Child(key string) (Tree, bool) {
	if t.kind != kindBranch {
		return Tree{}, false
	}
	c, ok := t.children[key]
	return c, ok
}

// Len is the number of direct children of a Branch.
func (t Tree) Len() int {
	return len(t.children)
}

// Keys returns the direct child names of a Branch in lexicographic order.
func (t Tree) Keys() []string {
	keys := make([]string, 0, len(t.children))
	for k := range t.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of the Branch t with key replaced by sub.
// The receiver is left untouched.
func (t Tree) With(key string, sub Tree) (Tree, error) {
	if t.kind != kindBranch {
		return Tree{}, ErrAmbiguousTopLevelLeaf
	}
	if err := checkKey("", key); err != nil {
		return Tree{}, err
	}
	if sub.kind == kindInvalid {
		return Tree{}, malformed(key, "zero-value node")
	}
	out := make(map[string]Tree, len(t.children)+1)
	for k, c := range t.children {
		out[k] = c
	}
	out[key] = sub
	return Tree{kind: kindBranch, children: out}, nil
}

// Without returns a copy of the Branch t with key removed.
func (t Tree) Without(key string) Tree {
	if t.kind != kindBranch {
		return t
	}
	out := make(map[string]Tree, len(t.children))
	for k, c := range t.children {
		if k != key {
			out[k] = c
		}
	}
	return Tree{kind: kindBranch, children: out}
}

// Equal reports whether a and b have the same shape and values.
func Equal(a, b Tree) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case kindLeaf:
		return a.value == b.value
	case kindBranch:
		if len(a.children) != len(b.children) {
			return false
		}
		for k, ac := range a.children {
			bc, ok := b.children[k]
			if !ok || !Equal(ac, bc) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// MarshalJSON encodes a Leaf as a JSON boolean and a Branch as an object
// with sorted keys.
func (t Tree) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case kindLeaf:
		return json.Marshal(t.value)
	case kindBranch:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range t.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			cb, err := t.children[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(cb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, malformed("", "zero-value node")
	}
}

// UnmarshalJSON decodes and validates a tree. The document root must be an
// object; nested values must be booleans or objects.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTree, err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		if _, isBool := raw.(bool); isBool {
			return ErrAmbiguousTopLevelLeaf
		}
		return malformed("", "document root is %T, want object", raw)
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// String renders t as compact JSON.
func (t Tree) String() string {
	b, err := t.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}
