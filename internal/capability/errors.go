package capability

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedTree indicates a value that is not a valid Leaf/Branch structure.
	ErrMalformedTree = errors.New("capability: malformed capability tree")

	// ErrAmbiguousTopLevelLeaf indicates a tree whose root is a bare Leaf.
	// The top level must be a mapping of named feature groups.
	ErrAmbiguousTopLevelLeaf = errors.New("capability: top-level node must be a branch")
)

// MalformedError describes where in a tree a shape violation was found.
type MalformedError struct {
	// Path is the dotted path of the offending node ("" for the root).
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrMalformedTree, e.Reason)
	}
	return fmt.Sprintf("%s at %q: %s", ErrMalformedTree, e.Path, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedTree
}

func malformed(path, format string, args ...any) error {
	return &MalformedError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
