// Package migrations embeds the run journal schema. Postgres files live in
// data/sql/migrations and their SQLite counterparts in its sqlite directory.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsDir = "data/sql/migrations"

//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// ForDialect returns the journal migrations for dialect, rooted so the
// versioned files sit at the top level.
func ForDialect(dialect string) (fs.FS, error) {
	return forDialect(migrationsFS, dialect)
}

func forDialect(root fs.FS, dialect string) (fs.FS, error) {
	dir := migrationsDir
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
	case DialectSQLite:
		dir = path.Join(migrationsDir, DialectSQLite)
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(root, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	if err := checkPairs(sub, dir); err != nil {
		return nil, err
	}
	return sub, nil
}

// checkPairs requires at least one migration and a down file for every up.
func checkPairs(fsys fs.FS, dir string) error {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			return fmt.Errorf("migrations: %s is missing %s: %w", dir, down, err)
		}
	}
	return nil
}
