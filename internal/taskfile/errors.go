package taskfile

import "errors"

var (
	// ErrMalformedRecord marks a line that could not be decoded.
	ErrMalformedRecord = errors.New("malformed task record")
	// ErrNoCurrentTask is returned by UpdateCurrent when the slot is empty.
	ErrNoCurrentTask = errors.New("no current task")
	// ErrIndexOutOfRange is returned by Remove for an invalid queue index.
	ErrIndexOutOfRange = errors.New("queue index out of range")
)
