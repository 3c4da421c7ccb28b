package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced capture does not exist.
	ErrNotFound = errors.New("capture not found")
	// ErrAlreadyLinked is returned when cancelling a capture that reconciliation finalized.
	ErrAlreadyLinked = errors.New("capture already linked")
	// ErrConflict is returned by stores when a compare-and-set write lost a race.
	ErrConflict = errors.New("capture modified concurrently")
	// ErrNotAvailable is returned by VOD providers when no VOD exists yet.
	ErrNotAvailable = errors.New("vod not available")
	// ErrInvalid marks rejected input.
	ErrInvalid = errors.New("invalid capture")
)

// TransientError wraps failures of the store or the VOD provider that should be retried on
// the next scheduled pass and never be read as permanent absence.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transient: %v", e.Err)
	}
	return fmt.Sprintf("transient %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
