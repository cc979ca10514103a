package expense

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// futureTolerance allows for timezone skew between the sender and us
const futureTolerance = 1 // days

// Validator checks record invariants. It holds no mutable state: the
// verdict depends only on the candidate and the fixed taxonomy.
type Validator struct {
	taxonomy *Taxonomy
}

// NewValidator creates a Validator for the given taxonomy
func NewValidator(taxonomy *Taxonomy) *Validator {
	return &Validator{taxonomy: taxonomy}
}

// Validate returns the first violated invariant as a *ValidationError, or nil
func (v *Validator) Validate(c *NormalizedCandidate) error {
	if c == nil {
		return &ValidationError{Reason: "no candidate"}
	}
	for _, check := range []func(*NormalizedCandidate) *ValidationError{
		checkAmount,
		checkCurrency,
		checkVendor,
		checkDate,
		v.checkCategory,
		checkSource,
	} {
		if err := check(c); err != nil {
			return err
		}
	}
	return nil
}

func checkAmount(c *NormalizedCandidate) *ValidationError {
	if !c.Amount.IsPositive() {
		return &ValidationError{Field: FieldAmount, Reason: fmt.Sprintf("amount must be positive, got %s", c.Amount.String())}
	}
	if !c.Amount.Equal(c.Amount.Round(2)) {
		return &ValidationError{Field: FieldAmount, Reason: fmt.Sprintf("amount %s has more than two decimals", c.Amount.String())}
	}
	return nil
}

func checkCurrency(c *NormalizedCandidate) *ValidationError {
	if !isISOCurrency(c.Currency) {
		return &ValidationError{Field: FieldCurrency, Reason: fmt.Sprintf("unknown currency %q", c.Currency)}
	}
	return nil
}

func checkVendor(c *NormalizedCandidate) *ValidationError {
	vendor := strings.TrimSpace(c.Vendor)
	if vendor == "" {
		return &ValidationError{Field: FieldVendor, Reason: "vendor is empty"}
	}
	if utf8.RuneCountInString(vendor) > MaxVendorLength {
		return &ValidationError{Field: FieldVendor, Reason: fmt.Sprintf("vendor longer than %d characters", MaxVendorLength)}
	}
	return nil
}

func checkDate(c *NormalizedCandidate) *ValidationError {
	if c.Date.IsZero() {
		return &ValidationError{Field: FieldDate, Reason: "date is missing"}
	}
	latest := civilDate(c.ReceivedAt).AddDate(0, 0, futureTolerance)
	if civilDate(c.Date).After(latest) {
		return &ValidationError{Field: FieldDate, Reason: fmt.Sprintf("date %s is in the future", c.Date.Format("2006-01-02"))}
	}
	return nil
}

func (v *Validator) checkCategory(c *NormalizedCandidate) *ValidationError {
	if !v.taxonomy.Contains(c.Category) {
		return &ValidationError{Field: FieldCategory, Reason: fmt.Sprintf("unknown category %q", c.Category)}
	}
	return nil
}

func checkSource(c *NormalizedCandidate) *ValidationError {
	if !c.Source.validRecord() {
		return &ValidationError{Field: FieldSource, Reason: fmt.Sprintf("unknown source %q", c.Source)}
	}
	return nil
}
