package composer

import (
	"errors"
	"fmt"
)

// ErrProbeFailure is returned when metadata of a file can't be read.
// It is not fatal: progress becomes unknown and resolution falls back to the source one.
var ErrProbeFailure = errors.New("probe failed")

// ErrFormatInvariant is returned when a format invariant of the pipeline is violated.
var ErrFormatInvariant = errors.New("format invariant violated")

// ErrCanceled is returned when the composition is canceled.
var ErrCanceled = errors.New("composition canceled")

// ConfigurationError is returned when options are invalid.
// It is always returned before any codec is opened.
type ConfigurationError struct {
	Msg string
}

// Error implements the error interface.
func (e ConfigurationError) Error() string {
	return "invalid configuration: " + e.Msg
}

func configErrorf(format string, args ...interface{}) error {
	return ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// CodecError is returned when a codec, a source or a muxer fails.
type CodecError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e CodecError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap implements errors.Unwrap.
func (e CodecError) Unwrap() error {
	return e.Err
}

func codecError(op string, err error) error {
	return CodecError{Op: op, Err: err}
}

func invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormatInvariant, fmt.Sprintf(format, args...))
}

// IsFatal returns whether an error must abort a composition.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrProbeFailure)
}
