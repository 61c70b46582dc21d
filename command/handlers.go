package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-feed-refresh/core"
)

type Refresher interface {
	Refresh(ctx context.Context, req core.RefreshRequest) (core.BatchReport, error)
}

type RefreshCommand struct {
	service Refresher
}

func NewRefreshCommand(service Refresher) *RefreshCommand {
	return &RefreshCommand{service: service}
}

// Execute runs one refresh batch. The report is stored in the context result
// collector even when the run returns an error, so callers can inspect
// partial progress.
func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	report, err := c.service.Refresh(ctx, core.RefreshRequest{
		DryRun:        msg.DryRun,
		RecordPattern: strings.TrimSpace(msg.RecordPattern),
	})
	storeResult(ctx, report)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
