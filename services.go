// Package feedrefresh wires the enrollment store, accounts client, callback
// server and feed merger into one refresh service.
package feedrefresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-feed-refresh/core"
	"github.com/goliatone/go-feed-refresh/enrollment"
	"github.com/goliatone/go-feed-refresh/feeds"
	"github.com/goliatone/go-feed-refresh/inbound"
	"github.com/goliatone/go-feed-refresh/query"
	sqlstore "github.com/goliatone/go-feed-refresh/store/sql"
	refreshsync "github.com/goliatone/go-feed-refresh/sync"
	"github.com/goliatone/go-feed-refresh/transport"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type Config = core.Config

type RefreshRequest = core.RefreshRequest

type BatchReport = core.BatchReport

type JournalEntry = core.JournalEntry

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig layers defaults, the YAML or JSON file at path (optional when
// empty or missing) and runtime overrides.
func LoadConfig(ctx context.Context, path string, runtime Config) (Config, error) {
	loader := core.FileConfigLoader{Path: strings.TrimSpace(path)}
	return core.LoadConfig(ctx, core.NewCfgxConfigProvider(loader), runtime)
}

type Option func(*Service)

func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(s *Service) {
		s.loggerProvider = provider
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithHTTPClient replaces the mTLS client built from the configured
// certificate pair.
func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithRunJournal uses journal instead of opening the configured one.
func WithRunJournal(journal core.RunJournal) Option {
	return func(s *Service) {
		s.journal = journal
	}
}

// WithCallbackListener is called with the bound address every time a callback
// session starts listening.
func WithCallbackListener(fn func(addr string)) Option {
	return func(s *Service) {
		s.onListen = fn
	}
}

// WithJournalOnly builds a service that only reads the run journal. The
// certificate pair is not loaded and Refresh is rejected.
func WithJournalOnly() Option {
	return func(s *Service) {
		s.journalOnly = true
	}
}

// Service runs refresh batches against one resolved configuration.
type Service struct {
	config         Config
	observer       core.Observer
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	httpClient     transport.HTTPDoer
	onListen       func(addr string)
	journalOnly    bool

	store   *enrollment.FileStore
	client  *transport.AccountsClient
	journal core.RunJournal
	reader  query.JournalReader
	closers []func() error
}

// NewService resolves relative paths against cfg.WorkDir, validates the
// result and builds every collaborator. A configured journal DSN opens and
// migrates the journal database.
func NewService(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	svc := &Service{}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	cfg = cfg.ResolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	svc.config = cfg
	svc.observer = core.NewObserver("feedrefresh", svc.loggerProvider, svc.logger, svc.metrics)
	svc.store = enrollment.NewFileStore()

	switch {
	case svc.journalOnly:
	case svc.httpClient != nil:
		svc.client = transport.NewAccountsClient(svc.httpClient, cfg.API.BaseURL, cfg.API.AccountsPath)
		svc.client.Observer = svc.observer
	default:
		client, err := transport.NewAccountsClientFromConfig(cfg.API, svc.observer)
		if err != nil {
			return nil, err
		}
		svc.client = client
	}

	if svc.journal == nil && strings.TrimSpace(cfg.Journal.DSN) != "" {
		journal, closeFn, err := sqlstore.OpenJournal(ctx, cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("feedrefresh: open run journal: %w", err)
		}
		svc.closers = append(svc.closers, closeFn)
		svc.journal = journal
		if cfg.Journal.CacheTTL > 0 {
			cached, err := newCachedJournal(journal, cfg.Journal.CacheTTL)
			if err != nil {
				_ = svc.Close()
				return nil, err
			}
			svc.journal = cached
		}
	}
	if reader, ok := svc.journal.(query.JournalReader); ok {
		svc.reader = reader
	}
	return svc, nil
}

func newCachedJournal(journal *sqlstore.RunJournal, ttl time.Duration) (*sqlstore.CachedRunJournal, error) {
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = ttl
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("feedrefresh: run journal cache: %w", err)
	}
	return sqlstore.NewCachedRunJournal(journal, cacheService)
}

func (s *Service) Config() Config {
	return s.config
}

// JournalReader returns nil when no journal is configured or the configured
// one cannot be queried.
func (s *Service) JournalReader() query.JournalReader {
	if s == nil || s.reader == nil {
		return nil
	}
	return s.reader
}

// Refresh runs one batch. Each call gets a fresh callback server and merger
// so request overrides never leak into later runs.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (BatchReport, error) {
	if s == nil {
		return BatchReport{}, fmt.Errorf("feedrefresh: service is nil")
	}
	if s.client == nil {
		return BatchReport{}, fmt.Errorf("feedrefresh: service was opened for journal reads only")
	}
	cfg := s.config
	if req.DryRun {
		cfg.DryRun = true
	}
	if pattern := strings.TrimSpace(req.RecordPattern); pattern != "" {
		cfg.RecordPattern = pattern
	}

	server := inbound.NewServer(cfg.Callback, s.store, s.client, s.observer)
	server.OnListen = s.onListen
	merger := feeds.NewMerger(cfg.Feeds.BackupPattern, s.observer)

	orchestrator := refreshsync.NewOrchestrator(cfg, s.store, s.client, server, merger)
	orchestrator.Observer = s.observer
	if s.journal != nil {
		orchestrator.Journal = s.journal
	}
	return orchestrator.Run(ctx)
}

func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}
