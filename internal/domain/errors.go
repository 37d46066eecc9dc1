package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound             = errors.New("order not found")
	ErrInvalidState         = errors.New("order is not in the required status")
	ErrAlreadyUsed          = errors.New("ticket already used")
	ErrConflict             = errors.New("conflicting concurrent update")
	ErrStorage              = errors.New("order store unavailable")
	ErrInvalidInput         = errors.New("invalid input")
	ErrSerializationFailure = errors.New("serialization failure")
)

// StateError reports a transition attempted from the wrong status.
type StateError struct {
	OrderID OrderID
	Op      string
	Status  Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s order %s: status is %s", e.Op, e.OrderID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// UsedError reports a ticket that was admitted before. Race is set when the
// check-in was lost to a concurrent commit rather than seen by the pre-check.
type UsedError struct {
	OrderID     OrderID
	CheckedInAt time.Time
	Race        bool
}

func (e *UsedError) Error() string {
	if e.Race {
		return fmt.Sprintf("order %s was checked in concurrently at %s", e.OrderID, e.CheckedInAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("order %s already checked in at %s", e.OrderID, e.CheckedInAt.Format(time.RFC3339))
}

func (e *UsedError) Is(target error) bool {
	if e.Race {
		return target == ErrConflict
	}
	return target == ErrAlreadyUsed
}

// StorageError is a store outage, kept apart from protocol outcomes. It
// matches ErrStorage and unwraps to the driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// StorageFailure wraps err as a StorageError.
func StorageFailure(err error, op string) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
