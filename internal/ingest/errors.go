package ingest

import (
	"errors"
	"fmt"
)

// ErrMalformedRequest is wrapped by every whole-batch rejection.
var ErrMalformedRequest = errors.New("malformed request")

// MalformedRequestError rejects a batch before any record is stored.
// Err is the validate sentinel that explains why.
type MalformedRequestError struct {
	Err error
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedRequest, e.Err)
}

func (e *MalformedRequestError) Unwrap() []error {
	return []error{ErrMalformedRequest, e.Err}
}

func malformed(err error) error {
	return &MalformedRequestError{Err: err}
}
