package expense

import (
	"errors"
	"fmt"
)

// Informational outcomes. The system refused to record twice.
var (
	ErrDuplicateExpense = errors.New("duplicate expense")
	ErrAlreadyProcessed = errors.New("message already processed")
)

var (
	// ErrNotExpense is returned when inference says an email is not a purchase
	ErrNotExpense = errors.New("message does not describe an expense")
	// ErrNotFound is returned for unknown expense ids
	ErrNotFound = errors.New("expense not found")
)

// AdapterError reports input a source adapter could not read
type AdapterError struct {
	Source Source
	Reason string
	Err    error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable %s input: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("unreadable %s input: %s", e.Source, e.Reason)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Field names a normalized field
type Field string

const (
	FieldAmount   Field = "amount"
	FieldCurrency Field = "currency"
	FieldDate     Field = "date"
	FieldVendor   Field = "vendor"
	FieldCategory Field = "category"
	FieldSource   Field = "source"
)

// NormalizationError reports the field whose raw value could not be normalized
type NormalizationError struct {
	Field  Field
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("could not read %s: %s", e.Field, e.Reason)
}

// ValidationError reports the first violated record invariant
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid expense: %s", e.Reason)
}
