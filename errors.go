package oplogtail

import (
	"errors"
	"fmt"
)

// ErrInvalidOperation reports an oplog entry whose "op" discriminator field is
// absent or not a string. This is distinct from UnknownOperationError, which
// reports a readable discriminator outside the recognized set.
var ErrInvalidOperation = errors.New("oplog entry has no readable op field")

// UnknownOperationError reports an oplog entry whose "op" field is a string
// but not one of the recognized operation codes (n, i, u, d, c).
type UnknownOperationError struct {
	// Code is the unrecognized discriminator as found in the entry.
	Code string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation type: %q", e.Code)
}

// MissingFieldError reports a required field that is absent from an oplog
// entry or present with an unexpected BSON type. Decoding is all-or-nothing
// per entry, so a single bad field fails the whole decode.
type MissingFieldError struct {
	// Field is the name of the offending field.
	Field string
	// Want is the BSON type the decoder required.
	Want string
	// Got is the BSON type actually found, or "missing" if the field is absent.
	Got string
}

func (e *MissingFieldError) Error() string {
	if e.Got == fieldMissing {
		return fmt.Sprintf("missing field %q: want %s", e.Field, e.Want)
	}
	return fmt.Sprintf("field %q: want %s, got %s", e.Field, e.Want, e.Got)
}

// DatabaseError wraps a failure reported by the MongoDB driver, either while
// opening the oplog cursor or while tailing it.
type DatabaseError struct {
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error: %v", e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}
