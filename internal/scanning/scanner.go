package scanning

import "context"

// InferredFields is the best-effort structured guess returned by an
// inference provider. Every field is optional; an empty string means the
// provider did not report it. Nothing here is trusted.
type InferredFields struct {
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Date     string `json:"date,omitempty"`
	Category string `json:"category,omitempty"`
	Notes    string `json:"notes,omitempty"`

	// IsExpense and Confidence are only reported for classification
	// prompts (emails). Empty when the provider said nothing.
	IsExpense  string `json:"is_expense,omitempty"`
	Confidence string `json:"confidence,omitempty"`
}

// Gateway defines the inference capabilities the pipeline relies on
type Gateway interface {
	// Infer turns free text into structured expense fields
	Infer(ctx context.Context, text string) (*InferredFields, error)
	// ExtractText reads the text printed on a receipt image or PDF
	ExtractText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases the provider's resources
	Close() error
}
