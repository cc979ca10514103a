package scanning

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInferenceTimeout means the provider did not answer in time. Callers may retry.
	ErrInferenceTimeout = errors.New("inference timed out")
	// ErrInference is a hard provider failure. Retrying will not help.
	ErrInference = errors.New("inference failed")
)

// classify maps a provider error to ErrInferenceTimeout or ErrInference.
// Cancellation by the caller is passed through untouched.
func classify(parent, call context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return fmt.Errorf("inference aborted: %w", parent.Err())
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(call.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrInference, err)
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInferenceTimeout)
}
