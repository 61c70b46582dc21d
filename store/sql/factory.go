package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-feed-refresh/core"
	"github.com/goliatone/go-feed-refresh/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-feed-refresh"
}

// OpenJournal connects to the configured database, applies the journal
// migrations for its dialect and returns a ready RunJournal. The returned
// close function releases the connection.
func OpenJournal(ctx context.Context, cfg core.JournalConfig) (*RunJournal, func() error, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil, fmt.Errorf("sqlstore: journal dsn is required")
	}
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		dialect       schema.Dialect
		targetDialect string
	)
	switch driver {
	case DriverSQLite:
		dialect = sqlitedialect.New()
		targetDialect = migrations.DialectSQLite
	case DriverPostgres:
		dialect = pgdialect.New()
		targetDialect = migrations.DialectPostgres
	default:
		return nil, nil, fmt.Errorf("sqlstore: unsupported journal driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("sqlstore: persistence client: %w", err)
	}

	journalMigrations, err := migrations.ForDialect(targetDialect)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	client.RegisterSQLMigrations(journalMigrations)
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("sqlstore: migrate journal: %w", err)
	}

	journal, err := NewRunJournalFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return journal, client.Close, nil
}

// NewRunJournalFromClient accepts a *bun.DB or anything exposing DB() *bun.DB,
// such as a persistence client.
func NewRunJournalFromClient(candidate any) (*RunJournal, error) {
	db, err := resolveBunDB(candidate)
	if err != nil {
		return nil, err
	}
	return NewRunJournal(db)
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
