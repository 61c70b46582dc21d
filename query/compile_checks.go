package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-feed-refresh/core"
)

var (
	_ gocmd.Querier[RunHistoryMessage, []core.JournalEntry]  = (*RunHistoryQuery)(nil)
	_ gocmd.Querier[RunOutcomesMessage, []core.JournalEntry] = (*RunOutcomesQuery)(nil)
)
