package core

import (
	"context"
	"errors"
	"fmt"
)

// CaptureSource is a facility that observes outgoing requests and reports
// each one through a callback.
type CaptureSource interface {
	// Name returns the source's identifier (e.g., "proxy", "tail", "exec").
	Name() string

	// Register starts delivery of events to onEvent. Registering an already
	// registered source is a no-op.
	Register(ctx context.Context, onEvent func(RawEvent)) error

	// Deregister stops delivery. A few events may still arrive afterwards.
	Deregister() error
}

// Finisher is implemented by sources that can stop delivering on their own,
// such as a helper process that exited for good.
type Finisher interface {
	// Done is closed once the current registration has ended.
	Done() <-chan struct{}
}

// ErrCaptureUnavailable reports that a capture facility cannot be used in
// this environment. Starting capture on such a source is a no-op.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// Persistence operations reported in PersistenceError.
const (
	OpSave  = "save"
	OpLoad  = "load"
	OpClear = "clear"
)

// PersistenceError is returned when the durable store fails to read, write
// or delete the log slot. It is never fatal: the in-memory log stays
// authoritative.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err for the given operation. A nil err yields nil.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
