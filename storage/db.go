// Package storage is the sqlite-backed persistence layer: blobs, commits,
// refs, annotations, operation events, compile records, and saved dynamic
// operation specs.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = fmt.Errorf("storage: not found")

// ErrAlreadyExists names a unique-constraint violation on a logical
// create. No repository method in this package returns it; a duplicate
// insert surfaces as the driver's constraint error.
var ErrAlreadyExists = fmt.Errorf("storage: already exists")

// Store wraps the single *sql.DB connection a tract owns, plus every
// repository over it. One Store per tract instance; the engine is
// single-writer.
type Store struct {
	DB *sql.DB

	Blobs            *BlobRepo
	Commits          *CommitRepo
	CommitParents    *CommitParentRepo
	Refs             *RefRepo
	Annotations      *AnnotationRepo
	OperationEvents  *OperationEventRepo
	CompileRecords   *CompileRecordRepo
	Specs            *SpecRepo
}

// Config controls how the backing sqlite file is opened.
type Config struct {
	// Path is the database file path, or ":memory:" for an in-process
	// store with no on-disk file.
	Path string
}

// Open creates or opens the sqlite-backed store at cfg.Path, applying the
// WAL/synchronous/foreign-key/busy-timeout pragmas the spec mandates and
// running all pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: Path is required")
	}
	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn = dsn + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", cfg.Path, err)
	}
	if cfg.Path == ":memory:" {
		// a single shared connection keeps the in-memory database alive
		// across queries; multiple pooled connections would each see an
		// empty database.
		db.SetMaxOpenConns(1)
	}
	if err := initPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	store := reposOver(db)
	store.DB = db
	return store, nil
}

// reposOver builds a Store-shaped bundle of repositories all bound to the
// same execer — either the top-level *sql.DB or a *sql.Tx from Batch.
func reposOver(exec execer) *Store {
	return &Store{
		Blobs:           &BlobRepo{exec: exec},
		Commits:         &CommitRepo{exec: exec},
		CommitParents:   &CommitParentRepo{exec: exec},
		Refs:            &RefRepo{exec: exec},
		Annotations:     &AnnotationRepo{exec: exec},
		OperationEvents: &OperationEventRepo{exec: exec},
		CompileRecords:  &CompileRecordRepo{exec: exec},
		Specs:           &SpecRepo{exec: exec},
	}
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("storage: pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)"); err != nil {
		return fmt.Errorf("storage: create meta table: %w", err)
	}
	current := 0
	row := db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'")
	var raw string
	if err := row.Scan(&raw); err == nil {
		current, _ = strconv.Atoi(raw)
	}
	for v := current; v < len(migrations); v++ {
		if _, err := db.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("storage: apply migration %d: %w", v+1, err)
		}
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO meta(key, value) VALUES('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value",
		strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("storage: record schema_version: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Batch runs fn inside a single transaction opened with the driver's
// default (deferred) BEGIN, so the write lock is taken at the first
// write rather than up front, not with BEGIN IMMEDIATE; any error
// returned by fn rolls back every write fn performed. fn receives a
// Store-shaped repository bundle bound to the transaction, so the same
// repo methods work standalone or batched.
func (s *Store) Batch(ctx context.Context, fn func(tx *Store) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(reposOver(tx))
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting repo methods
// run either standalone or inside a Batch.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}
