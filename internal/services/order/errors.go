package order

import (
	"errors"
	"fmt"

	"table-orders/internal/models"
)

// Error kinds matched with errors.Is
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid order state")
	ErrStorage      = errors.New("storage failure")
)

// ErrRecordNotFound is returned by stores when a lookup matches no row
var ErrRecordNotFound = errors.New("record not found")

// ValidationError reports a missing or malformed request field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a catalog item or order that does not exist
type NotFoundError struct {
	Entity string
	// By names the lookup key when it is not the entity's name or id.
	By  string
	Key string
}

func (e NotFoundError) Error() string {
	if e.By != "" {
		return fmt.Sprintf("no %s found for %s '%s'", e.Entity, e.By, e.Key)
	}
	return fmt.Sprintf("%s '%s' not found", e.Entity, e.Key)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidStateError reports an order that cannot be canceled in its current status
type InvalidStateError struct {
	OrderID int64
	Status  models.OrderStatus
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("order %d cannot be canceled because it is in '%s' status, not '%s'",
		e.OrderID, e.Status, models.StatusPlaced)
}

func (e InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// StorageError wraps a failed persistence operation
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

func (e StorageError) Is(target error) bool { return target == ErrStorage }

// asWorkflowError passes typed workflow errors through and wraps anything
// else as a StorageError for op.
func asWorkflowError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) || errors.Is(err, ErrStorage) {
		return err
	}
	return StorageError{Op: op, Err: err}
}
