package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

const runOutcomesMigration = "00001_refresh_run_outcomes"

func TestForDialect_ReturnsRunOutcomesPair(t *testing.T) {
	for _, dialect := range []string{DialectPostgres, DialectSQLite, " SQLite "} {
		fsys, err := ForDialect(dialect)
		if err != nil {
			t.Fatalf("%s: %v", dialect, err)
		}
		for _, name := range []string{runOutcomesMigration + ".up.sql", runOutcomesMigration + ".down.sql"} {
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				t.Fatalf("%s: read %s: %v", dialect, name, err)
			}
			if !strings.Contains(string(content), "refresh_run_outcomes") {
				t.Fatalf("%s: expected %s to touch refresh_run_outcomes", dialect, name)
			}
		}
	}
}

func TestForDialect_PostgresAndSQLiteDiffer(t *testing.T) {
	pg, err := ForDialect(DialectPostgres)
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	lite, err := ForDialect(DialectSQLite)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	pgUp, _ := fs.ReadFile(pg, runOutcomesMigration+".up.sql")
	liteUp, _ := fs.ReadFile(lite, runOutcomesMigration+".up.sql")
	if string(pgUp) == string(liteUp) {
		t.Fatalf("expected dialect specific schemas")
	}
}

func TestForDialect_Rejections(t *testing.T) {
	if _, err := ForDialect("mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}

	empty := fstest.MapFS{"data/sql/migrations/README.md": &fstest.MapFile{Data: []byte("docs")}}
	if _, err := forDialect(empty, DialectPostgres); err == nil {
		t.Fatalf("expected error for a directory without migrations")
	}

	unpaired := fstest.MapFS{
		"data/sql/migrations/sqlite/00001_refresh_run_outcomes.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE t (id TEXT);")},
	}
	if _, err := forDialect(unpaired, DialectSQLite); err == nil {
		t.Fatalf("expected error for an up migration without its down file")
	}
}

func TestSQLiteRunOutcomesMigration_ApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-run-outcomes?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := ForDialect(DialectSQLite)
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, runOutcomesMigration+".up.sql"); err != nil {
		t.Fatalf("apply run outcomes migration up: %v", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO refresh_run_outcomes (id, run_id, record_path, enrollment_id, state, entries)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"outcome_1", "run_1", "enrollment-a.json", "enr_1", "collected", 2,
	); err != nil {
		t.Fatalf("insert outcome: %v", err)
	}

	var errorCode string
	if err := db.QueryRowContext(ctx, `SELECT error_code FROM refresh_run_outcomes WHERE id=?`, "outcome_1").Scan(&errorCode); err != nil {
		t.Fatalf("select outcome: %v", err)
	}
	if errorCode != "" {
		t.Fatalf("expected empty default error code, got %q", errorCode)
	}

	var indexCount int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?`,
		"idx_refresh_run_outcomes_run_id",
	).Scan(&indexCount); err != nil {
		t.Fatalf("query run id index: %v", err)
	}
	if indexCount != 1 {
		t.Fatalf("expected idx_refresh_run_outcomes_run_id after up migration")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, runOutcomesMigration+".down.sql"); err != nil {
		t.Fatalf("apply run outcomes migration down: %v", err)
	}
	var tableCount int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"refresh_run_outcomes",
	).Scan(&tableCount); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if tableCount != 0 {
		t.Fatalf("expected refresh_run_outcomes to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
