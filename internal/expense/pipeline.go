package expense

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/scanning"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Inferrer is the part of the inference gateway the pipeline calls
type Inferrer interface {
	Infer(ctx context.Context, text string) (*scanning.InferredFields, error)
}

// Stage is a step of the per-candidate state machine
type Stage string

const (
	StageReceived     Stage = "received"
	StageInferred     Stage = "inferred"
	StageNormalized   Stage = "normalized"
	StageValidated    Stage = "validated"
	StageDeduplicated Stage = "deduplicated"
	StagePersisted    Stage = "persisted"
	StageRejected     Stage = "rejected"
)

// DefaultMinConfidence is the email classification threshold
const DefaultMinConfidence = 0.7

// PipelineConfig tunes the pipeline
type PipelineConfig struct {
	DedupWindow   time.Duration
	MinConfidence float64
}

// Pipeline runs one candidate through inference, normalization, validation
// and deduplication. It never retries; see Submit.
type Pipeline struct {
	inferrer      Inferrer
	store         Store
	normalizer    *Normalizer
	validator     *Validator
	dedup         *Deduplicator
	minConfidence float64
	timeSource    TimeSource
}

// NewPipeline creates a Pipeline with the default time source
func NewPipeline(inferrer Inferrer, store Store, taxonomy *Taxonomy, cfg PipelineConfig) *Pipeline {
	return NewPipelineWithDeps(inferrer, store, taxonomy, cfg, &defaultTimeSource{})
}

// NewPipelineWithDeps creates a Pipeline with a custom time source for testing
func NewPipelineWithDeps(inferrer Inferrer, store Store, taxonomy *Taxonomy, cfg PipelineConfig, timeSrc TimeSource) *Pipeline {
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &Pipeline{
		inferrer:      inferrer,
		store:         store,
		normalizer:    NewNormalizer(taxonomy),
		validator:     NewValidator(taxonomy),
		dedup:         NewDeduplicator(cfg.DedupWindow),
		minConfidence: cfg.MinConfidence,
		timeSource:    timeSrc,
	}
}

// Process runs raw through every stage. Nothing is written to the store
// unless all stages before deduplication succeed.
func (p *Pipeline) Process(ctx context.Context, raw RawCandidate) (*ExpenseRecord, error) {
	log := slog.With("source", raw.Source, "origin_id", raw.OriginID)
	stage := StageReceived

	reject := func(err error) (*ExpenseRecord, error) {
		log.Info("Candidate rejected", "stage", stage, "reason", err)
		return nil, err
	}

	if !raw.Source.validCandidate() {
		return reject(&AdapterError{Source: raw.Source, Reason: "unknown source"})
	}
	if strings.TrimSpace(raw.Payload) == "" {
		return reject(&AdapterError{Source: raw.Source, Reason: "empty payload"})
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = p.timeSource.Now()
	}

	// Cheap early exit before paying for inference; InsertIfAbsent re-checks.
	if raw.OriginID != "" {
		done, err := p.store.OriginProcessed(raw.OriginID)
		if err != nil {
			return nil, fmt.Errorf("checking origin: %w", err)
		}
		if done {
			return reject(ErrAlreadyProcessed)
		}
	}

	fields, err := p.inferrer.Infer(ctx, raw.Payload)
	if err != nil {
		return reject(fmt.Errorf("inferring fields: %w", err))
	}
	stage = StageInferred
	log.Debug("Candidate inferred", "fields", fields)

	if raw.Source == SourceEmail {
		if err := p.checkClassification(fields); err != nil {
			return reject(err)
		}
	}

	candidate, err := p.normalizer.Normalize(fields, NormalizeContext{
		ReceivedAt: raw.ReceivedAt,
		Source:     raw.Source,
		Sender:     raw.Sender,
	})
	if err != nil {
		return reject(err)
	}
	stage = StageNormalized
	if candidate.AmountRounded {
		log.Info("Amount rounded", "raw", fields.Amount, "amount", candidate.Amount.StringFixed(2))
	}

	if err := p.validator.Validate(candidate); err != nil {
		return reject(err)
	}
	stage = StageValidated

	record := p.dedup.Record(candidate, raw.OriginID, p.timeSource.Now())
	stored, err := p.store.InsertIfAbsent(record)
	if err != nil {
		stage = StageDeduplicated
		return reject(err)
	}

	log.Info("Expense persisted",
		"stage", StagePersisted,
		"id", stored.ID,
		"vendor", stored.Vendor,
		"amount", stored.AmountString(),
		"currency", stored.Currency,
		"date", stored.Date.Format("2006-01-02"),
	)
	return stored, nil
}

// checkClassification drops emails the model says are not purchases
func (p *Pipeline) checkClassification(fields *scanning.InferredFields) error {
	if strings.EqualFold(fields.IsExpense, "false") {
		return ErrNotExpense
	}
	if fields.Confidence == "" {
		return nil
	}
	confidence, err := strconv.ParseFloat(fields.Confidence, 64)
	if err != nil {
		return nil
	}
	if confidence < p.minConfidence {
		return fmt.Errorf("%w: confidence %.2f below %.2f", ErrNotExpense, confidence, p.minConfidence)
	}
	return nil
}
