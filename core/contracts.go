package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type EnrollmentStore interface {
	Discover(dir string, pattern string) ([]string, error)
	Load(path string) (EnrollmentRecord, error)
	Save(path string, record EnrollmentRecord) error
}

// CallbackPersister is the subset of the enrollment store a callback session
// writes through.
type CallbackPersister interface {
	SavePayload(path string, payload []byte) (EnrollmentRecord, error)
	Save(path string, record EnrollmentRecord) error
}

type TokenVerifier interface {
	IsValid(ctx context.Context, accessToken string) bool
}

type AccountsFetcher interface {
	FetchAccounts(ctx context.Context, accessToken string) ([]Account, error)
}

// SessionResult describes what a callback session managed to do before it
// ended, even when it ended in error.
type SessionResult struct {
	Persisted       bool
	AccountsFetched bool
	Accounts        []Account
}

type SessionRunner interface {
	RunSession(ctx context.Context, page string, recordPath string) (SessionResult, error)
}

type MergeResult struct {
	OutputPath string
	BackupPath string
	Entries    []FeedEntry
}

type FeedMerger interface {
	MergeAndWrite(ctx context.Context, outputPath string, entries []FeedEntry) (MergeResult, error)
}

// RunJournal records per-record outcomes of a run.
type RunJournal interface {
	RecordOutcome(ctx context.Context, runID string, outcome RecordOutcome) error
}

type NopRunJournal struct{}

func (NopRunJournal) RecordOutcome(context.Context, string, RecordOutcome) error { return nil }
