package expense

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies where a candidate came from. Candidates use text,
// image or email; persisted records use text, image or gmail.
type Source string

const (
	SourceText  Source = "text"
	SourceImage Source = "image"
	SourceEmail Source = "email"
	SourceGmail Source = "gmail"
)

// Stored returns the source recorded on a persisted expense
func (s Source) Stored() Source {
	if s == SourceEmail {
		return SourceGmail
	}
	return s
}

// Group returns the coarse grouping used in fingerprints: manual entries
// (text, image) and gmail imports are deduplicated separately.
func (s Source) Group() string {
	switch s {
	case SourceEmail, SourceGmail:
		return "gmail"
	default:
		return "manual"
	}
}

func (s Source) validCandidate() bool {
	return s == SourceText || s == SourceImage || s == SourceEmail
}

func (s Source) validRecord() bool {
	return s == SourceText || s == SourceImage || s == SourceGmail
}

// RawCandidate is the adapter output consumed by one pipeline pass
type RawCandidate struct {
	Source     Source
	Payload    string
	ReceivedAt time.Time
	// OriginID is the email message id; empty for text and image input
	OriginID string
	// Sender is the email From header, appended to the notes
	Sender string
}

// ExpenseRecord is a validated, persisted expense
type ExpenseRecord struct {
	ID        uint64          `json:"id"`
	Date      time.Time       `json:"date"` // midnight UTC of the calendar date
	Vendor    string          `json:"vendor"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Category  string          `json:"category"`
	Source    Source          `json:"source"`
	Notes     string          `json:"notes"`
	OriginID  string          `json:"origin_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	fingerprint string
}

// Fingerprint returns the dedup key assigned by the Deduplicator
func (r *ExpenseRecord) Fingerprint() string {
	return r.fingerprint
}

// AmountString formats the amount with its fixed two decimals
func (r *ExpenseRecord) AmountString() string {
	return r.Amount.StringFixed(2)
}

type recordAlias ExpenseRecord

type recordJSON struct {
	recordAlias
	Fingerprint string `json:"fingerprint"`
}

// MarshalJSON includes the fingerprint, which has no exported field
func (r ExpenseRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{recordAlias: recordAlias(r), Fingerprint: r.fingerprint})
}

func unmarshalRecord(data []byte) (*ExpenseRecord, error) {
	var aux recordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, err
	}
	rec := ExpenseRecord(aux.recordAlias)
	rec.fingerprint = aux.Fingerprint
	return &rec, nil
}

// SyncState remembers the last successful pull of a message source
type SyncState struct {
	LastSync time.Time `json:"last_sync"`
}
