package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-feed-refresh/core"
)

type stubRefresher struct {
	refreshFn func(ctx context.Context, req core.RefreshRequest) (core.BatchReport, error)
}

func (s stubRefresher) Refresh(ctx context.Context, req core.RefreshRequest) (core.BatchReport, error) {
	return s.refreshFn(ctx, req)
}

func TestRefreshCommand_ExecuteDelegatesAndStoresReport(t *testing.T) {
	called := false
	svc := stubRefresher{
		refreshFn: func(_ context.Context, req core.RefreshRequest) (core.BatchReport, error) {
			called = true
			if !req.DryRun || req.RecordPattern != "enrollment-*.json" {
				t.Fatalf("unexpected refresh request: %#v", req)
			}
			return core.BatchReport{RunID: "run_1", Merged: true}, nil
		},
	}

	collector := gocmd.NewResult[core.BatchReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := NewRefreshCommand(svc).Execute(ctx, RefreshMessage{DryRun: true, RecordPattern: " enrollment-*.json "})
	if err != nil {
		t.Fatalf("execute refresh: %v", err)
	}
	if !called {
		t.Fatalf("expected refresh service invocation")
	}
	report, ok := collector.Load()
	if !ok {
		t.Fatalf("expected report to be stored")
	}
	if report.RunID != "run_1" || !report.Merged {
		t.Fatalf("unexpected report: %#v", report)
	}
}

func TestRefreshCommand_StoresPartialReportOnError(t *testing.T) {
	svc := stubRefresher{
		refreshFn: func(context.Context, core.RefreshRequest) (core.BatchReport, error) {
			return core.BatchReport{RunID: "run_2", Outcomes: []core.RecordOutcome{{Path: "a.json"}}}, context.Canceled
		},
	}
	collector := gocmd.NewResult[core.BatchReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := NewRefreshCommand(svc).Execute(ctx, RefreshMessage{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	report, ok := collector.Load()
	if !ok || len(report.Outcomes) != 1 {
		t.Fatalf("expected partial report stored, got %#v", report)
	}
}

func TestRefreshCommand_WithoutCollector(t *testing.T) {
	svc := stubRefresher{
		refreshFn: func(context.Context, core.RefreshRequest) (core.BatchReport, error) {
			return core.BatchReport{RunID: "run_3"}, nil
		},
	}
	if err := NewRefreshCommand(svc).Execute(context.Background(), RefreshMessage{}); err != nil {
		t.Fatalf("execute refresh: %v", err)
	}
}

func TestRefreshMessage_ValidateReturnsRichError(t *testing.T) {
	for _, pattern := range []string{"[", "records/enrollment*.json"} {
		err := (RefreshMessage{RecordPattern: pattern}).Validate()
		if err == nil {
			t.Fatalf("expected validation error for %q", pattern)
		}
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("expected go-errors envelope, got %T", err)
		}
		if rich.Category != goerrors.CategoryValidation {
			t.Fatalf("expected validation category, got %q", rich.Category)
		}
		if rich.TextCode != core.ErrorBadInput {
			t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
		}
	}
	if err := (RefreshMessage{RecordPattern: "enrollment*.json"}).Validate(); err != nil {
		t.Fatalf("expected valid pattern, got %v", err)
	}
}

func TestRefreshCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *RefreshCommand
	err := cmd.Execute(context.Background(), RefreshMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

func TestRefreshMessage_Type(t *testing.T) {
	if (RefreshMessage{}).Type() != TypeRefresh {
		t.Fatalf("unexpected message type")
	}
}
