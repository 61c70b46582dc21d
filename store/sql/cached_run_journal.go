package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-feed-refresh/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const runOutcomesCacheKeyPrefix = "go-feed-refresh::run_outcomes::v1"

type journalStore interface {
	RecordOutcome(ctx context.Context, runID string, outcome core.RecordOutcome) error
	ListRun(ctx context.Context, runID string) ([]core.JournalEntry, error)
	History(ctx context.Context, enrollmentID string, limit int) ([]core.JournalEntry, error)
}

// CachedRunJournal caches per-run outcome listings. Writes for a run evict
// that run's entry; history listings always read through.
type CachedRunJournal struct {
	base  journalStore
	cache repositorycache.CacheService
}

func NewCachedRunJournal(base journalStore, cacheService repositorycache.CacheService) (*CachedRunJournal, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base run journal is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: run journal cache service is required")
	}
	return &CachedRunJournal{base: base, cache: cacheService}, nil
}

// RunOutcomesCacheKey returns go-feed-refresh::run_outcomes::v1::<run_id>
// with the run id URL-path escaped.
func RunOutcomesCacheKey(runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", fmt.Errorf("sqlstore: run id is required")
	}
	return runOutcomesCacheKeyPrefix + "::" + url.PathEscape(runID), nil
}

func (j *CachedRunJournal) RecordOutcome(ctx context.Context, runID string, outcome core.RecordOutcome) error {
	if j == nil || j.base == nil || j.cache == nil {
		return fmt.Errorf("sqlstore: cached run journal is not configured")
	}
	if err := j.base.RecordOutcome(ctx, runID, outcome); err != nil {
		return err
	}
	cacheKey, err := RunOutcomesCacheKey(runID)
	if err != nil {
		return err
	}
	return j.cache.Delete(ctx, cacheKey)
}

func (j *CachedRunJournal) ListRun(ctx context.Context, runID string) ([]core.JournalEntry, error) {
	if j == nil || j.base == nil || j.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached run journal is not configured")
	}
	cacheKey, err := RunOutcomesCacheKey(runID)
	if err != nil {
		return nil, err
	}
	entries, err := repositorycache.GetOrFetch(ctx, j.cache, cacheKey, func(ctx context.Context) ([]core.JournalEntry, error) {
		return j.base.ListRun(ctx, strings.TrimSpace(runID))
	})
	if err != nil {
		return nil, err
	}
	return cloneJournalEntries(entries), nil
}

func (j *CachedRunJournal) History(ctx context.Context, enrollmentID string, limit int) ([]core.JournalEntry, error) {
	if j == nil || j.base == nil {
		return nil, fmt.Errorf("sqlstore: cached run journal is not configured")
	}
	return j.base.History(ctx, enrollmentID, limit)
}

func cloneJournalEntries(entries []core.JournalEntry) []core.JournalEntry {
	if entries == nil {
		return nil
	}
	out := make([]core.JournalEntry, len(entries))
	copy(out, entries)
	return out
}

var (
	_ journalStore    = (*RunJournal)(nil)
	_ journalStore    = (*CachedRunJournal)(nil)
	_ core.RunJournal = (*CachedRunJournal)(nil)
)
