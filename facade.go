package feedrefresh

import (
	"fmt"

	"github.com/goliatone/go-feed-refresh/command"
	"github.com/goliatone/go-feed-refresh/query"
)

type Commands struct {
	Refresh *command.RefreshCommand
}

// Queries is empty when the service has no queryable journal.
type Queries struct {
	RunHistory  *query.RunHistoryQuery
	RunOutcomes *query.RunOutcomesQuery
}

type Facade struct {
	service  command.Refresher
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	journalReader query.JournalReader
}

func WithJournalReader(reader query.JournalReader) FacadeOption {
	return func(options *facadeOptions) {
		options.journalReader = reader
	}
}

func NewFacade(service command.Refresher, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("feedrefresh: refresh service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.journalReader
	if reader == nil {
		reader = resolveJournalReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Refresh: command.NewRefreshCommand(service),
	}
	if reader != nil {
		facade.queries = Queries{
			RunHistory:  query.NewRunHistoryQuery(reader),
			RunOutcomes: query.NewRunOutcomesQuery(reader),
		}
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func resolveJournalReader(service command.Refresher) query.JournalReader {
	switch typed := service.(type) {
	case interface{ JournalReader() query.JournalReader }:
		return typed.JournalReader()
	case query.JournalReader:
		return typed
	default:
		return nil
	}
}
