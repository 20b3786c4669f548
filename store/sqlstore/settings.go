package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/tuition-ledger/ledger"
)

// =============================================================================
// SETTINGS (ledger.SettingsStore)
// =============================================================================

func (s *Store) GetSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %q: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) PutSetting(ctx context.Context, name, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
		name, value)
	if err != nil {
		return fmt.Errorf("failed to save setting %q: %w", name, err)
	}
	return nil
}

func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.query(ctx, `SELECT name, value FROM settings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// =============================================================================
// STUDENTS (ledger.StudentDirectory)
// =============================================================================

func (s *Store) Students(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT student_id FROM invoices
		UNION
		SELECT student_id FROM payments
		ORDER BY student_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog)
// =============================================================================

// Emit appends events in one transaction.
func (s *Store) Emit(ctx context.Context, events []ledger.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer sqlTx.Rollback()

	w := reader{q: sqlTx, d: s.dialect}
	for _, e := range events {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		_, err = w.exec(ctx, `
			INSERT INTO audit_log (id, actor_id, action, table_name, record_id, student_id, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ActorID, string(e.Action), e.TableName, e.RecordID, e.StudentID,
			string(details), e.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
	}
	return sqlTx.Commit()
}

// QueryAudit returns matching events, newest first.
func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.TableName != "" {
		where = append(where, "table_name = ?")
		args = append(args, filter.TableName)
	}

	query := `SELECT id, actor_id, action, table_name, record_id, student_id, details, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []ledger.AuditEvent
	for rows.Next() {
		var (
			e       ledger.AuditEvent
			action  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.TableName, &e.RecordID, &e.StudentID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Action = ledger.AuditAction(action)
		e.Timestamp = e.Timestamp.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
