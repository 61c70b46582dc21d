package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-feed-refresh/core"
)

type JournalReader interface {
	History(ctx context.Context, enrollmentID string, limit int) ([]core.JournalEntry, error)
	ListRun(ctx context.Context, runID string) ([]core.JournalEntry, error)
}

type RunHistoryQuery struct {
	reader JournalReader
}

func NewRunHistoryQuery(reader JournalReader) *RunHistoryQuery {
	return &RunHistoryQuery{reader: reader}
}

func (q *RunHistoryQuery) Query(ctx context.Context, msg RunHistoryMessage) ([]core.JournalEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: journal reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.History(ctx, strings.TrimSpace(msg.EnrollmentID), msg.Limit)
}

type RunOutcomesQuery struct {
	reader JournalReader
}

func NewRunOutcomesQuery(reader JournalReader) *RunOutcomesQuery {
	return &RunOutcomesQuery{reader: reader}
}

func (q *RunOutcomesQuery) Query(ctx context.Context, msg RunOutcomesMessage) ([]core.JournalEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: journal reader is required")
	}
	msg.RunID = strings.TrimSpace(msg.RunID)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListRun(ctx, msg.RunID)
}
