// Package gocommand registers the refresh command and journal queries with
// go-command and dispatches messages to them.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-feed-refresh/command"
	"github.com/goliatone/go-feed-refresh/core"
	"github.com/goliatone/go-feed-refresh/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := gocmd.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(gocmd.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *gocmd.Registry
}

func NewRegistryAdapter(registry *gocmd.Registry) *RegistryAdapter {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *gocmd.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) Register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd gocmd.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.Register(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry gocmd.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.Register(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Bus owns the dispatcher subscriptions for one process. The dispatcher is
// global, so only one Bus should be open at a time; Close releases it.
type Bus struct {
	adapter       *RegistryAdapter
	subscriptions []commanddispatcher.Subscription
	hasJournal    bool
}

// NewBus subscribes the refresh command and, when both are non-nil, the
// journal queries. The handlers usually come from a feedrefresh.Facade.
func NewBus(
	refresh *command.RefreshCommand,
	history *query.RunHistoryQuery,
	outcomes *query.RunOutcomesQuery,
) (*Bus, error) {
	if refresh == nil {
		return nil, fmt.Errorf("gocommand: refresh command is required")
	}
	bus := &Bus{adapter: NewRegistryAdapter(nil)}

	sub, err := RegisterAndSubscribe[command.RefreshMessage](bus.adapter, refresh)
	if err != nil {
		return nil, err
	}
	bus.subscriptions = append(bus.subscriptions, sub)

	if history != nil && outcomes != nil {
		historySub, err := RegisterAndSubscribeQuery[query.RunHistoryMessage, []core.JournalEntry](bus.adapter, history)
		if err != nil {
			bus.Close()
			return nil, err
		}
		bus.subscriptions = append(bus.subscriptions, historySub)

		outcomesSub, err := RegisterAndSubscribeQuery[query.RunOutcomesMessage, []core.JournalEntry](bus.adapter, outcomes)
		if err != nil {
			bus.Close()
			return nil, err
		}
		bus.subscriptions = append(bus.subscriptions, outcomesSub)
		bus.hasJournal = true
	}

	if err := bus.adapter.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

// Refresh dispatches a refresh and returns the report stored by the command,
// including partial reports of failed runs.
func (b *Bus) Refresh(ctx context.Context, msg command.RefreshMessage) (core.BatchReport, error) {
	if b == nil {
		return core.BatchReport{}, fmt.Errorf("gocommand: bus is not configured")
	}
	if err := ValidateMessageContract(msg); err != nil {
		return core.BatchReport{}, err
	}
	collector := gocmd.NewResult[core.BatchReport]()
	err := commanddispatcher.Dispatch(gocmd.ContextWithResult(ctx, collector), msg)
	report, _ := collector.Load()
	return report, err
}

func (b *Bus) History(ctx context.Context, msg query.RunHistoryMessage) ([]core.JournalEntry, error) {
	if b == nil || !b.hasJournal {
		return nil, fmt.Errorf("gocommand: run journal is not configured")
	}
	return commanddispatcher.Query[query.RunHistoryMessage, []core.JournalEntry](ctx, msg)
}

func (b *Bus) RunOutcomes(ctx context.Context, msg query.RunOutcomesMessage) ([]core.JournalEntry, error) {
	if b == nil || !b.hasJournal {
		return nil, fmt.Errorf("gocommand: run journal is not configured")
	}
	return commanddispatcher.Query[query.RunOutcomesMessage, []core.JournalEntry](ctx, msg)
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, sub := range b.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}
