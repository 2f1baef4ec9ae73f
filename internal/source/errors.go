package source

import (
	"errors"
	"fmt"
)

// ErrDriverUnavailable indicates a source could not answer. It is never
// translated into an empty capability set.
var ErrDriverUnavailable = errors.New("capability source: driver unavailable")

// UnavailableError carries the failing source name and the underlying cause.
// errors.Is(err, ErrDriverUnavailable) reports true for it.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrDriverUnavailable, e.Source)
	}
	return fmt.Sprintf("%s: %s: %v", ErrDriverUnavailable, e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrDriverUnavailable
}

var errNilSource = errors.New("source is nil")

// Unavailable wraps err as an *UnavailableError for the named source.
func Unavailable(source string, err error) error {
	return &UnavailableError{Source: source, Err: err}
}
