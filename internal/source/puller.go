package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-tracker/internal/expense"
)

// ErrPullInProgress is returned when a pull is started while another runs
var ErrPullInProgress = errors.New("email pull already in progress")

// SyncStateName keys the Gmail pull state in the store
const SyncStateName = "gmail"

// SyncStore remembers when the last pull finished
type SyncStore interface {
	GetSyncState(name string) (*expense.SyncState, error)
	SaveSyncState(name string, state *expense.SyncState) error
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// MessageOutcome is what happened to one email of a pull
type MessageOutcome struct {
	OriginID string
	Subject  string
	Outcome  expense.Outcome
}

// PullSummary reports one pull
type PullSummary struct {
	RunID            string
	Query            string
	Checked          int
	Persisted        int
	Duplicates       int
	AlreadyProcessed int
	Rejected         int
	Messages         []MessageOutcome
}

func (s *PullSummary) add(mo MessageOutcome) {
	s.Messages = append(s.Messages, mo)
	switch mo.Outcome.Status {
	case expense.StatusPersisted:
		s.Persisted++
	case expense.StatusDuplicate:
		s.Duplicates++
	case expense.StatusAlreadyProcessed:
		s.AlreadyProcessed++
	default:
		s.Rejected++
	}
}

// Puller imports expenses from a mailbox
type Puller struct {
	search     MessageSearch
	processor  expense.Processor
	state      SyncStore
	policy     expense.RetryPolicy
	adapter    EmailAdapter
	keywords   []string
	timeSource TimeSource

	running sync.Mutex
}

// NewPuller creates a Puller
func NewPuller(search MessageSearch, processor expense.Processor, state SyncStore, policy expense.RetryPolicy) *Puller {
	return NewPullerWithDeps(search, processor, state, policy, &defaultTimeSource{})
}

// NewPullerWithDeps creates a Puller with a custom time source for testing
func NewPullerWithDeps(search MessageSearch, processor expense.Processor, state SyncStore, policy expense.RetryPolicy, timeSrc TimeSource) *Puller {
	return &Puller{
		search:     search,
		processor:  processor,
		state:      state,
		policy:     policy,
		keywords:   Keywords,
		timeSource: timeSrc,
	}
}

// Pull processes every matching message one at a time. A failing message is
// recorded in the summary and never stops the batch. Cancellation is
// honored between messages; the summary so far is returned with the context
// error. The sync state only advances after a complete pull in which no
// message failed in a way a later pull could fix. Only one pull runs at a
// time.
func (p *Puller) Pull(ctx context.Context) (*PullSummary, error) {
	if !p.running.TryLock() {
		return nil, ErrPullInProgress
	}
	defer p.running.Unlock()

	runID := uuid.NewString()
	log := slog.With("run_id", runID)
	started := p.timeSource.Now()

	state, err := p.state.GetSyncState(SyncStateName)
	if err != nil {
		return nil, fmt.Errorf("loading sync state: %w", err)
	}

	summary := &PullSummary{
		RunID: runID,
		Query: BuildQuery(p.keywords, state.LastSync),
	}
	log.Info("Starting email pull", "query", summary.Query)

	complete := true
	for msg, err := range p.search.Search(ctx, summary.Query) {
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, ErrSearchTruncated) {
			log.Warn("Message cap reached, sync state held back", "checked", summary.Checked)
			complete = false
			continue
		}
		summary.Checked++

		if err != nil {
			log.Error("Failed to fetch message", "error", err)
			summary.add(MessageOutcome{Outcome: expense.OutcomeOf(nil, err)})
			complete = false
			continue
		}

		mo := p.processMessage(ctx, msg)
		summary.add(mo)
		if mo.Outcome.Retryable() {
			complete = false
		}

		log.Info("Processed message",
			"origin_id", msg.OriginID,
			"status", mo.Outcome.Status,
			"reason", mo.Outcome.Reason(),
		)
	}

	if err := ctx.Err(); err != nil {
		log.Warn("Email pull cancelled", "checked", summary.Checked, "error", err)
		return summary, err
	}

	if complete {
		if err := p.state.SaveSyncState(SyncStateName, &expense.SyncState{LastSync: started}); err != nil {
			return summary, fmt.Errorf("saving sync state: %w", err)
		}
	}

	log.Info("Finished email pull",
		"checked", summary.Checked,
		"persisted", summary.Persisted,
		"duplicates", summary.Duplicates,
		"already_processed", summary.AlreadyProcessed,
		"rejected", summary.Rejected,
		"sync_advanced", complete,
	)
	return summary, nil
}

func (p *Puller) processMessage(ctx context.Context, msg *Message) MessageOutcome {
	mo := MessageOutcome{OriginID: msg.OriginID, Subject: msg.Subject}

	raw, err := p.adapter.Adapt(msg)
	if err != nil {
		mo.Outcome = expense.OutcomeOf(nil, err)
		return mo
	}

	mo.Outcome = expense.Submit(ctx, p.processor, raw, p.policy)
	if errors.Is(mo.Outcome.Err, expense.ErrNotExpense) {
		slog.Debug("Skipping non-expense email", "origin_id", msg.OriginID, "subject", msg.Subject)
	}
	return mo
}

// Run pulls every interval until ctx is done
func (p *Puller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := p.Pull(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPullInProgress) {
			slog.Error("Email pull failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
