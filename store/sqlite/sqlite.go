/*
Package sqlite provides the SQLite backend for the ledger.

PURPOSE:
  Opens a SQLite database with mattn/go-sqlite3, migrates it and returns a
  sqlstore.Store. All queries live in store/sqlstore; this package only
  supplies the dialect.

CONCURRENCY:
  SQLite has one writer at a time. Transactions are opened with
  BEGIN IMMEDIATE (_txlock=immediate) so the write lock is taken up front,
  which makes the whole database the per-student lock. A writer that cannot
  get the lock within the busy timeout gets SQLITE_BUSY, reported as
  ledger.ErrConcurrencyConflict and retried by the facade.

  The pool is limited to one connection. ":memory:" databases are private to
  a connection, and a single connection keeps every caller on the same data.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewFacade(store)

SEE ALSO:
  - store/sqlstore: Shared database/sql implementation
  - store/postgres: PostgreSQL backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
	"github.com/warp/tuition-ledger/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	return Open(context.Background(), dbPath, zap.NewNop())
}

// Open is New with a context and logger.
func Open(ctx context.Context, dbPath string, logger *zap.Logger) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := sqlstore.New(db, Dialect{}, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite3" }

func (Dialect) Goose() goose.Dialect { return goose.DialectSQLite3 }

func (Dialect) Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

func (Dialect) Rebind(query string) string { return query }

// LockStudent is a no-op: BEGIN IMMEDIATE already holds the database write lock.
func (Dialect) LockStudent(context.Context, *sql.Tx, string) error { return nil }

func (Dialect) Classify(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return errors.Join(sqlstore.ErrUniqueViolation, err)
	case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
		return errors.Join(ledger.ErrConcurrencyConflict, err)
	}
	return err
}
