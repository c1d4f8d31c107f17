package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for unknown job identifiers and stream names.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed definition or item. Field names the
// offending JSON field when there is one.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConnectionError is returned when a broker channel cannot be initialized.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError is returned when the broker rejects or times out a write.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("write to topic %s: %v", e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
