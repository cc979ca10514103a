package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/source"
)

var (
	// ErrInvalidQuery is returned for malformed listing filters
	ErrInvalidQuery = errors.New("invalid query")
	// ErrPullDisabled is returned when no mailbox is configured
	ErrPullDisabled = errors.New("email pull is not configured")
)

// Querier reads persisted expenses
type Querier interface {
	GetExpense(id uint64) (*expense.ExpenseRecord, error)
	ListExpenses() ([]*expense.ExpenseRecord, error)
	QueryByMonth(year int, month time.Month) ([]*expense.ExpenseRecord, error)
	QueryByVendor(vendor string) ([]*expense.ExpenseRecord, error)
	QueryByCategory(category string) ([]*expense.ExpenseRecord, error)
}

// Puller runs one email pull
type Puller interface {
	Pull(ctx context.Context) (*source.PullSummary, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ExpenseQuery filters a listing; at most one field may be set
type ExpenseQuery struct {
	Month    string // YYYY-MM
	Vendor   string
	Category string
}

// Service delivers candidates from the HTTP surface to the pipeline
type Service struct {
	processor  expense.Processor
	queries    Querier
	images     *source.ImageAdapter
	policy     expense.RetryPolicy
	puller     Puller
	archive    Archive
	timeSource TimeSource
}

// NewService creates a new Service with the default time source
func NewService(processor expense.Processor, queries Querier, extractor source.TextExtractor, policy expense.RetryPolicy) *Service {
	return NewServiceWithDeps(processor, queries, extractor, policy, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with a custom time source for testing
func NewServiceWithDeps(processor expense.Processor, queries Querier, extractor source.TextExtractor, policy expense.RetryPolicy, timeSrc TimeSource) *Service {
	return &Service{
		processor:  processor,
		queries:    queries,
		images:     source.NewImageAdapter(extractor),
		policy:     policy,
		timeSource: timeSrc,
	}
}

// WithPuller enables on-demand email pulls
func (s *Service) WithPuller(p Puller) *Service {
	s.puller = p
	return s
}

// WithArchive keeps receipt uploads of persisted expenses
func (s *Service) WithArchive(a Archive) *Service {
	s.archive = a
	return s
}

// SubmitText runs a free-form message through the pipeline
func (s *Service) SubmitText(ctx context.Context, text string) expense.Outcome {
	raw, err := source.TextAdapter{}.Adapt(text, s.timeSource.Now())
	if err != nil {
		return expense.OutcomeOf(nil, err)
	}
	return s.submit(ctx, raw)
}

// SubmitImage transcribes a receipt upload and runs the text through the
// pipeline. OCR timeouts are retried like inference timeouts.
func (s *Service) SubmitImage(ctx context.Context, data []byte, contentType string) expense.Outcome {
	receivedAt := s.timeSource.Now()

	var raw expense.RawCandidate
	err := s.policy.Do(ctx, func() error {
		var err error
		raw, err = s.images.Adapt(ctx, data, contentType, receivedAt)
		return err
	})
	if err != nil {
		slog.Warn("Receipt image rejected", "content_type", contentType, "error", err)
		return expense.OutcomeOf(nil, err)
	}

	outcome := s.submit(ctx, raw)
	if outcome.Status == expense.StatusPersisted && s.archive != nil {
		if err := s.archive.Save(outcome.Record.ID, contentType, data); err != nil {
			// the expense is recorded either way
			slog.Error("Failed to archive receipt image", "id", outcome.Record.ID, "error", err)
		}
	}
	return outcome
}

func (s *Service) submit(ctx context.Context, raw expense.RawCandidate) expense.Outcome {
	outcome := expense.Submit(ctx, s.processor, raw, s.policy)
	slog.Info("Candidate processed",
		"source", raw.Source,
		"status", outcome.Status,
		"reason", outcome.Reason(),
	)
	return outcome
}

// PullEmail runs one email pull now
func (s *Service) PullEmail(ctx context.Context) (*source.PullSummary, error) {
	if s.puller == nil {
		return nil, ErrPullDisabled
	}
	return s.puller.Pull(ctx)
}

// GetExpense returns one expense
func (s *Service) GetExpense(id uint64) (*expense.ExpenseRecord, error) {
	return s.queries.GetExpense(id)
}

// ListExpenses returns the expenses matching q, oldest first
func (s *Service) ListExpenses(q ExpenseQuery) ([]*expense.ExpenseRecord, error) {
	month := strings.TrimSpace(q.Month)
	vendor := strings.TrimSpace(q.Vendor)
	category := strings.TrimSpace(q.Category)

	set := 0
	for _, v := range []string{month, vendor, category} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("%w: filter by one of month, vendor or category", ErrInvalidQuery)
	}

	switch {
	case month != "":
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, fmt.Errorf("%w: month must look like 2024-03", ErrInvalidQuery)
		}
		return s.queries.QueryByMonth(t.Year(), t.Month())
	case vendor != "":
		return s.queries.QueryByVendor(vendor)
	case category != "":
		return s.queries.QueryByCategory(category)
	default:
		return s.queries.ListExpenses()
	}
}

// ReceiptImage returns the archived upload of an expense
func (s *Service) ReceiptImage(id uint64) ([]byte, string, error) {
	if s.archive == nil {
		return nil, "", fmt.Errorf("%w for expense %d", ErrNoImage, id)
	}
	return s.archive.Get(id)
}
