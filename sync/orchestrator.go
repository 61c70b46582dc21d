// Package sync drives a refresh run: every enrollment record is verified,
// reauthorized through a callback session when needed and projected into feed
// entries, then the registry is merged once.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-feed-refresh/core"
	"github.com/goliatone/go-feed-refresh/feeds"
	"github.com/goliatone/go-feed-refresh/inbound"
	"github.com/google/uuid"
)

// PageRenderer produces the callback page for one enrollment.
type PageRenderer func(templatePath string, enrollmentID string) (string, error)

type Orchestrator struct {
	Config   core.Config
	Store    core.EnrollmentStore
	Verifier core.TokenVerifier
	Sessions core.SessionRunner
	Merger   core.FeedMerger
	Journal  core.RunJournal
	Observer core.Observer
	Render   PageRenderer
	Now      func() time.Time
}

func NewOrchestrator(
	cfg core.Config,
	store core.EnrollmentStore,
	verifier core.TokenVerifier,
	sessions core.SessionRunner,
	merger core.FeedMerger,
) *Orchestrator {
	return &Orchestrator{
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
		Sessions: sessions,
		Merger:   merger,
		Journal:  core.NopRunJournal{},
		Render:   inbound.RenderPage,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Run processes every discovered record in order. Record-level failures are
// recorded in the report and never stop the batch, except projection failures
// when AbortOnProjectionError is set. A cancelled context stops the batch
// after the current record; entries collected so far are still merged.
func (o *Orchestrator) Run(ctx context.Context) (core.BatchReport, error) {
	if err := o.validate(); err != nil {
		return core.BatchReport{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	report := core.BatchReport{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
	}
	runFields := map[string]any{"run_id": report.RunID}

	files, err := o.Store.Discover(o.Config.WorkDir, o.Config.RecordPattern)
	if err != nil {
		report.FinishedAt = o.now()
		return report, err
	}
	if len(files) == 0 {
		o.Observer.Warn(ctx, "no enrollment records found", map[string]any{
			"run_id":   report.RunID,
			"work_dir": o.Config.WorkDir,
			"pattern":  o.Config.RecordPattern,
		})
		report.FinishedAt = o.now()
		return report, nil
	}

	mapping := o.Config.FeedNameMapping()
	var runErr error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		outcome, entries, abort := o.processRecord(ctx, path, mapping)
		report.Outcomes = append(report.Outcomes, outcome)
		report.Entries = append(report.Entries, entries...)
		o.journal(ctx, report.RunID, outcome)
		if abort {
			report.Aborted = true
			o.Observer.Error(ctx, "projection failed, stopping batch", map[string]any{
				"run_id":      report.RunID,
				"record_path": path,
				"remaining":   len(files) - len(report.Outcomes),
			})
			break
		}
	}

	if len(report.Entries) > 0 && !o.Config.DryRun {
		result, err := o.Merger.MergeAndWrite(ctx, o.Config.Feeds.OutputPath, report.Entries)
		if err != nil {
			report.MergeErr = err
		} else {
			report.Merged = true
			report.BackupPath = result.BackupPath
		}
	}

	report.FinishedAt = o.now()
	o.summarize(ctx, report, runFields)
	return report, runErr
}

func (o *Orchestrator) processRecord(
	ctx context.Context,
	path string,
	mapping core.FeedNameMapping,
) (outcome core.RecordOutcome, entries []core.FeedEntry, abort bool) {
	startedAt := time.Now()
	outcome = core.RecordOutcome{Path: path, State: core.RecordStateLoaded}
	defer func() {
		o.Observer.ObserveOperation(ctx, startedAt, "record", outcome.Err, map[string]any{
			"record_path":   outcome.Path,
			"enrollment_id": outcome.EnrollmentID,
			"state":         string(outcome.State),
			"entries":       outcome.Entries,
		})
	}()

	record, err := o.Store.Load(path)
	if err != nil {
		return skipped(outcome, err), nil, false
	}
	outcome.EnrollmentID = record.EnrollmentID()

	if o.Verifier.IsValid(ctx, record.AccessToken) {
		outcome.State = core.RecordStateVerifiedOK
		return outcome, nil, false
	}
	outcome.State = core.RecordStateVerifiedBad
	if o.Config.DryRun {
		outcome.Err = core.ValidationError(outcome.EnrollmentID)
		return outcome, nil, false
	}

	page, err := o.render(o.Config.Callback.TemplatePath, outcome.EnrollmentID)
	if err != nil {
		return skipped(outcome, err), nil, false
	}

	outcome.State = core.RecordStateAwaitingCallback
	result, sessionErr := o.Sessions.RunSession(ctx, page, path)
	if sessionErr != nil && !result.Persisted {
		return skipped(outcome, sessionErr), nil, false
	}
	outcome.State = core.RecordStateCallbackDone

	refreshed, err := o.Store.Load(path)
	if err != nil {
		return skipped(outcome, err), nil, false
	}
	entries, err = feeds.Project(refreshed, mapping)
	if err != nil {
		return skipped(outcome, err), nil, o.Config.AbortOnProjectionError
	}

	outcome.State = core.RecordStateCollected
	outcome.Entries = len(entries)
	outcome.Err = sessionErr
	return outcome, entries, false
}

func skipped(outcome core.RecordOutcome, err error) core.RecordOutcome {
	outcome.State = core.RecordStateSkipped
	outcome.Err = err
	return outcome
}

func (o *Orchestrator) journal(ctx context.Context, runID string, outcome core.RecordOutcome) {
	if o.Journal == nil {
		return
	}
	if err := o.Journal.RecordOutcome(ctx, runID, outcome); err != nil {
		o.Observer.Warn(ctx, "run journal write failed", map[string]any{
			"run_id":      runID,
			"record_path": outcome.Path,
			"error":       err.Error(),
		})
	}
}

func (o *Orchestrator) summarize(ctx context.Context, report core.BatchReport, fields map[string]any) {
	duration := report.FinishedAt.Sub(report.StartedAt)
	o.Observer.ObserveHistogram(ctx, "refresh.batch.duration_ms", float64(duration.Milliseconds()), map[string]string{
		"failed": fmt.Sprint(report.Failed()),
	})

	summary := cloneFields(fields)
	for state, count := range report.CountByState() {
		summary["records_"+string(state)] = count
	}
	summary["records"] = len(report.Outcomes)
	summary["entries"] = len(report.Entries)
	summary["merged"] = report.Merged
	summary["aborted"] = report.Aborted
	summary["duration_ms"] = duration.Milliseconds()
	if report.BackupPath != "" {
		summary["backup_path"] = report.BackupPath
	}
	if report.MergeErr != nil {
		summary["merge_error"] = report.MergeErr.Error()
		o.Observer.Error(ctx, "refresh run finished with merge failure", summary)
		return
	}
	o.Observer.Info(ctx, "refresh run finished", summary)
}

func (o *Orchestrator) validate() error {
	if o == nil {
		return fmt.Errorf("sync: orchestrator is nil")
	}
	var missing []string
	if o.Store == nil {
		missing = append(missing, "store")
	}
	if o.Verifier == nil {
		missing = append(missing, "verifier")
	}
	if o.Sessions == nil && !o.Config.DryRun {
		missing = append(missing, "sessions")
	}
	if o.Merger == nil && !o.Config.DryRun {
		missing = append(missing, "merger")
	}
	if len(missing) > 0 {
		return fmt.Errorf("sync: orchestrator requires %s", strings.Join(missing, ", "))
	}
	return nil
}

func (o *Orchestrator) render(templatePath string, enrollmentID string) (string, error) {
	if strings.TrimSpace(templatePath) == "" {
		templatePath = core.DefaultTemplatePath
	}
	if o.Render != nil {
		return o.Render(templatePath, enrollmentID)
	}
	return inbound.RenderPage(templatePath, enrollmentID)
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func cloneFields(fields map[string]any) map[string]any {
	cloned := make(map[string]any, len(fields))
	for key, value := range fields {
		cloned[key] = value
	}
	return cloned
}
