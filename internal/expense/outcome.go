package expense

import (
	"errors"

	"github.com/zombor/expense-tracker/internal/scanning"
)

// Status is what the user-facing surface is told about one candidate
type Status string

const (
	StatusPersisted        Status = "persisted"
	StatusRejected         Status = "rejected"
	StatusDuplicate        Status = "duplicate"
	StatusAlreadyProcessed Status = "already_processed"
)

// Outcome is the result of submitting one candidate
type Outcome struct {
	Status Status
	Record *ExpenseRecord
	Err    error
}

// OutcomeOf classifies a Process result
func OutcomeOf(record *ExpenseRecord, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Status: StatusPersisted, Record: record}
	case errors.Is(err, ErrDuplicateExpense):
		return Outcome{Status: StatusDuplicate, Err: err}
	case errors.Is(err, ErrAlreadyProcessed):
		return Outcome{Status: StatusAlreadyProcessed, Err: err}
	default:
		return Outcome{Status: StatusRejected, Err: err}
	}
}

// Reason is a user-facing explanation, empty for persisted outcomes
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Field names the field a normalization or validation failure is about
func (o Outcome) Field() Field {
	var nerr *NormalizationError
	if errors.As(o.Err, &nerr) {
		return nerr.Field
	}
	var verr *ValidationError
	if errors.As(o.Err, &verr) {
		return verr.Field
	}
	return ""
}

// Informational reports outcomes that are not failures: the system
// correctly refused to record the same expense twice.
func (o Outcome) Informational() bool {
	return o.Status == StatusDuplicate || o.Status == StatusAlreadyProcessed
}

// Retryable reports whether resubmitting the same candidate could succeed
func (o Outcome) Retryable() bool {
	return scanning.IsRetryable(o.Err)
}
