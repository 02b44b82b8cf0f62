package container

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an extraction failed.
type ErrorKind int

const (
	// KindOpenFailed means the container could not be opened or is not a
	// supported format.
	KindOpenFailed ErrorKind = iota + 1
	// KindQueryFailed means the container's entries could not be read.
	KindQueryFailed
	// KindStreamNotFound means no entry carries the requested name.
	KindStreamNotFound
	// KindStreamTooLarge means the entry exceeds the size cap.
	KindStreamTooLarge
	// KindWriteFailed means the temporary output could not be written.
	KindWriteFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindOpenFailed:
		return "open failed"
	case KindQueryFailed:
		return "query failed"
	case KindStreamNotFound:
		return "stream not found"
	case KindStreamTooLarge:
		return "stream too large"
	case KindWriteFailed:
		return "write failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ExtractError is returned by every failed extraction.
type ExtractError struct {
	Kind      ErrorKind
	Container string
	Stream    string
	Err       error
}

func (e *ExtractError) Error() string {
	msg := fmt.Sprintf("extract %q from %s: %s", e.Stream, e.Container, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *ExtractError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ee *ExtractError
	return errors.As(err, &ee) && ee.Kind == kind
}
