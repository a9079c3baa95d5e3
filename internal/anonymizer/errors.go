package anonymizer

import (
	"errors"
	"fmt"
)

// ErrOutputExists is returned by a Sink when the destination for a record is
// already taken.
var ErrOutputExists = errors.New("output already exists")

// RecordError ties a per-record failure to its source reference.
type RecordError struct {
	Source string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
