package cogeo

import (
	"errors"
	"fmt"
)

// ErrInvalidOption is returned when an option or a combination of options is
// invalid.
type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// Kinds of conversion failures. Use errors.Is to check the kind of an error
// returned by Convert.
var (
	// ErrSourceOpen is returned when the input raster cannot be opened. No
	// output has been created.
	ErrSourceOpen = errors.New("source open failure")
	// ErrProfileConflict is returned when the output cannot be created with
	// the requested profile.
	ErrProfileConflict = errors.New("profile conflict")
	// ErrBlockIO is returned when reading or writing pixels or the mask
	// failed. The output is invalid.
	ErrBlockIO = errors.New("block i/o failure")
	// ErrOverview is returned when overviews or their tag could not be
	// created. Full resolution data and mask have been written.
	ErrOverview = errors.New("overview failure")
)

// Error is a conversion failure of a given Kind
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
