package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Keywords select the emails worth sending to inference
var Keywords = []string{"receipt", "invoice", "payment", "subscription"}

// firstPullWindow bounds the first pull, before any sync state exists
const firstPullWindow = "newer_than:7d"

// ErrSearchTruncated ends a search that stopped at its message cap with
// matches left unread.
var ErrSearchTruncated = errors.New("search truncated at message cap")

// MessageSearch finds emails lazily. A yielded error without a message is
// either a failed fetch of one message or a failed listing; the sequence ends
// after the latter.
type MessageSearch interface {
	Search(ctx context.Context, query string) iter.Seq2[*Message, error]
}

// BuildQuery returns the search query for messages since lastSync. The
// window reaches back one extra day because search dates are calendar days
// in the mailbox's time zone; already processed messages are skipped by
// origin id.
func BuildQuery(keywords []string, lastSync time.Time) string {
	filter := "(" + strings.Join(keywords, " OR ") + ")"
	if lastSync.IsZero() {
		return fmt.Sprintf("%s %s", filter, firstPullWindow)
	}
	after := lastSync.AddDate(0, 0, -1)
	return fmt.Sprintf("%s after:%s", filter, after.Format("2006/01/02"))
}
