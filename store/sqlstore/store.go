/*
Package sqlstore implements the ledger storage interfaces on database/sql.

PURPOSE:
  One implementation of ledger.Store, ledger.SettingsStore and
  ledger.AuditLog shared by every SQL backend. The differences between
  SQLite and PostgreSQL (placeholders, per-student locking, error codes,
  migration files) live behind the Dialect interface.

INTERFACES IMPLEMENTED:
  ledger.Store:         Invoice/Debt/Payment/Receipt persistence
  ledger.Tx:            Writes inside WithStudentTx
  ledger.SettingsStore: Named fee settings
  ledger.AuditLog:      Append-only audit events

KEY TABLES:
  invoices:  One row per billable event
  debts:     One row per invoice, the only mutable ledger rows
  payments:  Immutable money movements, invoice_id NULL when unlinked
  receipts:  One row per payment
  settings:  name -> value
  audit_log: Append-only who-did-what

UNIQUENESS:
  - idx_invoices_student_session: one class-fee invoice per (student, session)
  - idx_invoices_student_key:     one keyed invoice per (student, key)
  Violations surface as ledger.ErrDuplicateInvoice.

CONCURRENCY:
  WithStudentTx opens one database transaction and asks the Dialect to lock
  the student inside it. Reads made through the Tx go through the same
  *sql.Tx, so nothing else can interleave.

MIGRATION:
  Schema is migrated with goose from the Dialect's embedded migrations.

SEE ALSO:
  - store/sqlite: SQLite dialect (mattn/go-sqlite3)
  - store/postgres: PostgreSQL dialect (pgx)
  - ledger/store.go: Interface definitions
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
)

// Store implements the ledger storage interfaces on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger

	reader
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		reader:  reader{q: db, d: dialect},
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every pending goose migration.
func (s *Store) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(s.dialect.Goose(), s.db, s.dialect.Migrations())
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied",
			zap.String("dialect", s.dialect.Name()),
			zap.String("source", r.Source.Path),
			zap.Duration("duration", r.Duration))
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithStudentTx executes fn within a database transaction holding the
// student's lock. If fn returns error, transaction is rolled back.
func (s *Store) WithStudentTx(ctx context.Context, studentID string, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", s.dialect.Classify(err))
	}
	defer sqlTx.Rollback()

	if err := s.dialect.LockStudent(ctx, sqlTx, studentID); err != nil {
		return fmt.Errorf("failed to lock student %s: %w", studentID, s.dialect.Classify(err))
	}

	if err := fn(&txStore{reader: reader{q: sqlTx, d: s.dialect}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", s.dialect.Classify(err))
	}
	return nil
}

// Compile-time interface checks.
var (
	_ ledger.Store         = (*Store)(nil)
	_ ledger.Tx            = (*txStore)(nil)
	_ ledger.SettingsStore = (*Store)(nil)
	_ ledger.AuditLog      = (*Store)(nil)

	_ ledger.StudentDirectory = (*Store)(nil)
)
