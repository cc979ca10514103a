package expense

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DefaultDedupWindow buckets dates by calendar day
const DefaultDedupWindow = 24 * time.Hour

// Deduplicator derives fingerprints. Two candidates share a fingerprint when
// vendor, amount, currency and source group match and their dates fall in
// the same window bucket.
type Deduplicator struct {
	window time.Duration
}

// NewDeduplicator creates a Deduplicator. Windows shorter than a day are
// meaningless for calendar dates and fall back to DefaultDedupWindow.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window < DefaultDedupWindow {
		window = DefaultDedupWindow
	}
	return &Deduplicator{window: window}
}

// Window returns the bucket size
func (d *Deduplicator) Window() time.Duration {
	return d.window
}

// Fingerprint computes the dedup key of a normalized candidate
func (d *Deduplicator) Fingerprint(c *NormalizedCandidate) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%d\x1f%s",
		strings.ToLower(c.Vendor),
		c.Amount.StringFixed(2),
		c.Currency,
		d.bucket(c.Date),
		c.Source.Group(),
	)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Deduplicator) bucket(date time.Time) int64 {
	secs := civilDate(date).Unix()
	size := int64(d.window / time.Second)
	b := secs / size
	if secs%size < 0 {
		b--
	}
	return b
}

// Record builds the record to insert, carrying its fingerprint
func (d *Deduplicator) Record(c *NormalizedCandidate, originID string, now time.Time) *ExpenseRecord {
	return &ExpenseRecord{
		Date:        civilDate(c.Date),
		Vendor:      c.Vendor,
		Amount:      c.Amount,
		Currency:    c.Currency,
		Category:    c.Category,
		Source:      c.Source,
		Notes:       c.Notes,
		OriginID:    originID,
		CreatedAt:   now,
		fingerprint: d.Fingerprint(c),
	}
}
