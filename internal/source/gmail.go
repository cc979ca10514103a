package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"iter"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// DefaultPageSize is how many message ids are listed per request
const DefaultPageSize = 50

// Gmail searches a Gmail mailbox
type Gmail struct {
	svc         *gmail.Service
	user        string
	pageSize    int64
	maxMessages int
}

// GmailConfig configures a Gmail search
type GmailConfig struct {
	// PageSize is the number of message ids per listing request
	PageSize int64
	// MaxMessages caps one search; zero means no cap
	MaxMessages int
}

// NewGmail creates a Gmail search from an OAuth client credentials file and a
// previously authorized token file
func NewGmail(ctx context.Context, credentialsFile, tokenFile string, cfg GmailConfig) (*Gmail, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading gmail credentials: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(creds, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing gmail credentials: %w", err)
	}

	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("creating gmail client: %w", err)
	}
	return NewGmailWithService(svc, cfg), nil
}

// NewGmailWithService creates a Gmail search around an existing client
func NewGmailWithService(svc *gmail.Service, cfg GmailConfig) *Gmail {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Gmail{
		svc:         svc,
		user:        "me",
		pageSize:    cfg.PageSize,
		maxMessages: cfg.MaxMessages,
	}
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening gmail token: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding gmail token: %w", err)
	}
	return tok, nil
}

// Search lists matching messages page by page and fetches each one only when
// the consumer asks for it.
func (g *Gmail) Search(ctx context.Context, query string) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		pageToken := ""
		seen := 0
		for {
			call := g.svc.Users.Messages.List(g.user).Q(query).MaxResults(g.pageSize).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				yield(nil, fmt.Errorf("listing messages: %w", err))
				return
			}

			for _, ref := range resp.Messages {
				if g.maxMessages > 0 && seen >= g.maxMessages {
					yield(nil, ErrSearchTruncated)
					return
				}
				seen++

				full, err := g.svc.Users.Messages.Get(g.user, ref.Id).Format("full").Context(ctx).Do()
				if err != nil {
					if !yield(nil, fmt.Errorf("fetching message %s: %w", ref.Id, err)) {
						return
					}
					continue
				}
				if !yield(toMessage(full), nil) {
					return
				}
			}

			if resp.NextPageToken == "" {
				return
			}
			pageToken = resp.NextPageToken
		}
	}
}

func toMessage(m *gmail.Message) *Message {
	msg := &Message{
		OriginID:   m.Id,
		ReceivedAt: time.UnixMilli(m.InternalDate),
	}
	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = h.Value
		}
	}

	if body, ok := findPart(m.Payload, "text/plain"); ok {
		msg.Body = body
	} else if html, ok := findPart(m.Payload, "text/html"); ok {
		msg.Body = stripHTML(html)
	} else {
		msg.Body = m.Snippet
	}
	return msg
}

// findPart walks the MIME tree depth first for the first part of mimeType
// that carries data
func findPart(part *gmail.MessagePart, mimeType string) (string, bool) {
	if part == nil {
		return "", false
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if text, err := decodeBody(part.Body.Data); err == nil {
			return text, true
		}
	}
	for _, child := range part.Parts {
		if text, ok := findPart(child, mimeType); ok {
			return text, true
		}
	}
	return "", false
}

// decodeBody decodes base64url with or without padding
func decodeBody(data string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", err
		}
	}
	return string(b), nil
}

var (
	htmlDropRe  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlSpaceRe = regexp.MustCompile(`[ \t\r\f\v\x{00A0}]+`)
	htmlLineRe  = regexp.MustCompile(` *\n *`)
	htmlBlankRe = regexp.MustCompile(`\n\s*\n+`)
)

func stripHTML(body string) string {
	text := htmlDropRe.ReplaceAllString(body, "")
	text = htmlTagRe.ReplaceAllString(text, "\n")
	text = html.UnescapeString(text)
	text = htmlSpaceRe.ReplaceAllString(text, " ")
	text = htmlLineRe.ReplaceAllString(text, "\n")
	text = htmlBlankRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
