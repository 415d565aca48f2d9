package pcmfeed

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSetUp is returned if player is used before Setup or after
	// Release.
	ErrNotSetUp = errors.New("not set up")
	// ErrInvalidConfig is returned if sink rejects the format or its
	// buffer sizing.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidArgument is returned if fed buffer is empty or has partial
	// frames, or threshold is out of range.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSinkWrite is matched by errors reported when sink write fails.
	ErrSinkWrite = errors.New("sink write failed")
	// ErrUnderflow is returned by sinks along with written frames if the
	// sink had run out of frames before the write. It's not a failure.
	ErrUnderflow = errors.New("output underflowed")
)

// WriteError is reported when sink fails to accept a chunk. Frames is the
// number of frames that were not written.
type WriteError struct {
	Frames int
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%v: %d frames dropped: %v", ErrSinkWrite, e.Frames, e.Err)
}

// Is makes WriteError match ErrSinkWrite.
func (e *WriteError) Is(err error) bool {
	return err == ErrSinkWrite
}

// Unwrap returns the sink error.
func (e *WriteError) Unwrap() error {
	return e.Err
}
