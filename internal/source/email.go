package source

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zombor/expense-tracker/internal/expense"
)

// maxBodyLength caps the email body handed to inference
const maxBodyLength = 2000

// Message is one email returned by a MessageSearch
type Message struct {
	OriginID   string
	Subject    string
	From       string
	Body       string
	ReceivedAt time.Time
}

// EmailAdapter turns an email into a candidate
type EmailAdapter struct{}

// Adapt builds the inference payload from subject, sender and body
func (EmailAdapter) Adapt(msg *Message) (expense.RawCandidate, error) {
	if msg.OriginID == "" {
		return expense.RawCandidate{}, &expense.AdapterError{Source: expense.SourceEmail, Reason: "message has no id"}
	}

	subject := strings.TrimSpace(msg.Subject)
	body := truncateRunes(strings.TrimSpace(msg.Body), maxBodyLength)
	if subject == "" && body == "" {
		return expense.RawCandidate{}, &expense.AdapterError{Source: expense.SourceEmail, Reason: "message has no subject or body"}
	}

	var b strings.Builder
	b.WriteString("Subject: ")
	b.WriteString(subject)
	b.WriteString("\nFrom: ")
	b.WriteString(strings.TrimSpace(msg.From))
	b.WriteString("\n\n")
	b.WriteString(body)

	return expense.RawCandidate{
		Source:     expense.SourceEmail,
		Payload:    b.String(),
		ReceivedAt: msg.ReceivedAt,
		OriginID:   msg.OriginID,
		Sender:     senderName(msg.From),
	}, nil
}

// senderName prefers the display name of a From header
func senderName(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.Index(from, "<"); i > 0 {
		if name := strings.Trim(strings.TrimSpace(from[:i]), `"`); name != "" {
			return name
		}
	}
	return strings.Trim(from, "<>")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
