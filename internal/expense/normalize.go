package expense

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/scanning"
)

// maxNotesLength caps notes, in runes
const maxNotesLength = 500

// NormalizeContext anchors normalization of one candidate
type NormalizeContext struct {
	ReceivedAt time.Time
	Source     Source
	Sender     string
}

// NormalizedCandidate is an inference result after per-field normalization,
// before invariant validation. Raw keeps the untouched inference output for
// audit and debugging; it is never persisted.
type NormalizedCandidate struct {
	Date          time.Time
	Vendor        string
	Amount        decimal.Decimal
	AmountRounded bool
	Currency      string
	Category      string
	Notes         string
	Source        Source
	ReceivedAt    time.Time
	Raw           scanning.InferredFields
}

// Normalizer maps untrusted inference output onto the record schema
type Normalizer struct {
	taxonomy *Taxonomy
}

// NewNormalizer creates a Normalizer for the given taxonomy
func NewNormalizer(taxonomy *Taxonomy) *Normalizer {
	return &Normalizer{taxonomy: taxonomy}
}

// Normalize applies the per-field rules. Fields are independent of each
// other's normalized values; the date alone uses ReceivedAt as an anchor.
// The amount is rounded half away from zero to two decimals.
func (n *Normalizer) Normalize(fields *scanning.InferredFields, nctx NormalizeContext) (*NormalizedCandidate, error) {
	if fields == nil {
		fields = &scanning.InferredFields{}
	}

	amount, err := parseAmount(fields.Amount)
	if err != nil {
		return nil, &NormalizationError{Field: FieldAmount, Reason: err.Error()}
	}
	rounded := amount.Round(2)

	currency, ok := n.currency(fields)
	if !ok {
		return nil, &NormalizationError{Field: FieldCurrency, Reason: "no recognizable currency symbol or code"}
	}

	date, err := resolveDate(fields.Date, nctx.ReceivedAt)
	if err != nil {
		return nil, &NormalizationError{Field: FieldDate, Reason: err.Error()}
	}

	vendor, err := normalizeVendor(fields.Vendor)
	if err != nil {
		return nil, &NormalizationError{Field: FieldVendor, Reason: err.Error()}
	}

	return &NormalizedCandidate{
		Date:          date,
		Vendor:        vendor,
		Amount:        rounded,
		AmountRounded: !rounded.Equal(amount),
		Currency:      currency,
		Category:      n.taxonomy.Match(fields.Category, fields.Notes, fields.Vendor),
		Notes:         normalizeNotes(fields.Notes, nctx.Sender),
		Source:        nctx.Source.Stored(),
		ReceivedAt:    nctx.ReceivedAt,
		Raw:           *fields,
	}, nil
}

// currency never defaults: the explicit value wins, then hints embedded in
// the amount text, then vendor and notes as a last resort.
func (n *Normalizer) currency(fields *scanning.InferredFields) (string, bool) {
	if code, ok := resolveCurrency(fields.Currency); ok {
		return code, true
	}
	for _, hint := range []string{fields.Amount, fields.Vendor, fields.Notes} {
		if code, ok := findCurrency(hint); ok {
			return code, true
		}
	}
	return "", false
}

func normalizeNotes(raw, sender string) string {
	notes := strings.TrimSpace(raw)
	if sender = strings.TrimSpace(sender); sender != "" {
		notes = strings.TrimSpace(notes + " [From: " + sender + "]")
	}
	if utf8.RuneCountInString(notes) > maxNotesLength {
		notes = strings.TrimSpace(string([]rune(notes)[:maxNotesLength]))
	}
	return notes
}
