package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-feed-refresh/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultHistoryLimit = 50

// RunJournal persists one row per record outcome per run.
type RunJournal struct {
	db   *bun.DB
	repo repository.Repository[*runOutcomeRecord]
	now  func() time.Time
}

func NewRunJournal(db *bun.DB) (*RunJournal, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*runOutcomeRecord](db, runOutcomeHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid run outcome repository wiring: %w", err)
		}
	}
	return &RunJournal{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (j *RunJournal) RecordOutcome(ctx context.Context, runID string, outcome core.RecordOutcome) error {
	if j == nil || j.repo == nil {
		return fmt.Errorf("sqlstore: run journal is not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("sqlstore: run id is required")
	}
	record := &runOutcomeRecord{
		ID:           uuid.NewString(),
		RunID:        runID,
		RecordPath:   strings.TrimSpace(outcome.Path),
		EnrollmentID: strings.TrimSpace(outcome.EnrollmentID),
		State:        string(outcome.State),
		Entries:      outcome.Entries,
		CreatedAt:    j.now(),
	}
	if outcome.Err != nil {
		record.ErrorCode = core.ErrorTextCode(outcome.Err)
		record.Error = outcome.Err.Error()
	}
	_, err := j.repo.Create(ctx, record)
	return err
}

// ListRun returns the outcomes of one run in the order they were recorded.
func (j *RunJournal) ListRun(ctx context.Context, runID string) ([]core.JournalEntry, error) {
	if j == nil || j.repo == nil {
		return nil, fmt.Errorf("sqlstore: run journal is not configured")
	}
	records, _, err := j.repo.List(ctx,
		repository.SelectBy("run_id", "=", strings.TrimSpace(runID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	return toJournalEntries(records), nil
}

// History returns the most recent outcomes for an enrollment, newest first.
// An empty enrollmentID lists outcomes across all enrollments.
func (j *RunJournal) History(ctx context.Context, enrollmentID string, limit int) ([]core.JournalEntry, error) {
	if j == nil || j.repo == nil {
		return nil, fmt.Errorf("sqlstore: run journal is not configured")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if id := strings.TrimSpace(enrollmentID); id != "" {
		selectors = append(selectors, repository.SelectBy("enrollment_id", "=", id))
	}
	records, _, err := j.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	return toJournalEntries(records), nil
}

func toJournalEntries(records []*runOutcomeRecord) []core.JournalEntry {
	entries := make([]core.JournalEntry, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		entries = append(entries, core.JournalEntry{
			ID:           record.ID,
			RunID:        record.RunID,
			RecordPath:   record.RecordPath,
			EnrollmentID: record.EnrollmentID,
			State:        core.RecordState(record.State),
			Entries:      record.Entries,
			ErrorCode:    record.ErrorCode,
			Error:        record.Error,
			CreatedAt:    record.CreatedAt,
		})
	}
	return entries
}

var _ core.RunJournal = (*RunJournal)(nil)
