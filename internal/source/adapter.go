package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// maxTextLength caps a chat or HTTP text payload
const maxTextLength = 4000

// TextAdapter turns a free-form text message into a candidate
type TextAdapter struct{}

// Adapt returns the candidate for text, or an AdapterError when there is
// nothing to infer from.
func (TextAdapter) Adapt(text string, receivedAt time.Time) (expense.RawCandidate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return expense.RawCandidate{}, &expense.AdapterError{Source: expense.SourceText, Reason: "empty message"}
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		return expense.RawCandidate{}, &expense.AdapterError{
			Source: expense.SourceText,
			Reason: fmt.Sprintf("message longer than %d characters", maxTextLength),
		}
	}
	return expense.RawCandidate{
		Source:     expense.SourceText,
		Payload:    text,
		ReceivedAt: receivedAt,
	}, nil
}

// TextExtractor is the OCR half of the inference gateway
type TextExtractor interface {
	ExtractText(ctx context.Context, imageData []byte, contentType string) (string, error)
}

// ImageAdapter turns a receipt photo into a text candidate through OCR
type ImageAdapter struct {
	extractor TextExtractor
}

// NewImageAdapter creates an ImageAdapter
func NewImageAdapter(extractor TextExtractor) *ImageAdapter {
	return &ImageAdapter{extractor: extractor}
}

// Adapt runs OCR on data. Unreadable images and images without text are
// AdapterErrors; inference failures are returned as they are so callers can
// tell timeouts apart.
func (a *ImageAdapter) Adapt(ctx context.Context, data []byte, contentType string, receivedAt time.Time) (expense.RawCandidate, error) {
	if len(data) == 0 {
		return expense.RawCandidate{}, &expense.AdapterError{Source: expense.SourceImage, Reason: "empty image"}
	}

	text, err := a.extractor.ExtractText(ctx, data, contentType)
	if err != nil {
		if errors.Is(err, scanning.ErrUnsupportedImage) || errors.Is(err, scanning.ErrUnreadableImage) {
			return expense.RawCandidate{}, &expense.AdapterError{Source: expense.SourceImage, Reason: "unreadable image", Err: err}
		}
		return expense.RawCandidate{}, fmt.Errorf("extracting text: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return expense.RawCandidate{}, &expense.AdapterError{Source: expense.SourceImage, Reason: "no text found in image"}
	}

	return expense.RawCandidate{
		Source:     expense.SourceImage,
		Payload:    text,
		ReceivedAt: receivedAt,
	}, nil
}
