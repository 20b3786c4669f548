/*
Package postgres provides the PostgreSQL backend for the ledger.

PURPOSE:
  Opens PostgreSQL through pgx's database/sql driver, migrates it and
  returns a sqlstore.Store.

PER-STUDENT LOCKING:
  Every WithStudentTx takes a transaction-scoped advisory lock on
  hashtext(student_id). Two payments for the same student queue behind each
  other; different students proceed in parallel. The lock is released on
  commit or rollback.

ERRORS:
  23505 unique_violation      -> sqlstore.ErrUniqueViolation
  40001 serialization_failure -> ledger.ErrConcurrencyConflict
  40P01 deadlock_detected     -> ledger.ErrConcurrencyConflict
  55P03 lock_not_available    -> ledger.ErrConcurrencyConflict
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
	"github.com/warp/tuition-ledger/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to databaseURL, verifies the connection and migrates.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := sqlstore.New(db, Dialect{}, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect is the PostgreSQL flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "pgx" }

func (Dialect) Goose() goose.Dialect { return goose.DialectPostgres }

func (Dialect) Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }

func (Dialect) LockStudent(ctx context.Context, tx *sql.Tx, studentID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, studentID)
	return err
}

func (Dialect) Classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return errors.Join(sqlstore.ErrUniqueViolation, err)
	case "40001", "40P01", "55P03":
		return errors.Join(ledger.ErrConcurrencyConflict, err)
	}
	return err
}
