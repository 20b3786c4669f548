package store

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/warp/tuition-ledger/ledger"
)

var ErrDuplicateReceipt = errors.New("receipt already issued for payment")

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) GetSetting(_ context.Context, name string) (string, bool, error) {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	v, ok := m.settings[name]
	return v, ok, nil
}

func (m *Memory) PutSetting(_ context.Context, name, value string) error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	m.settings[name] = value
	return nil
}

func (m *Memory) ListSettings(_ context.Context) (map[string]string, error) {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return maps.Clone(m.settings), nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) Emit(_ context.Context, events []ledger.AuditEvent) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, events...)
	return nil
}

// QueryAudit returns matching events, newest first.
func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEvent, error) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	var out []ledger.AuditEvent
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.TableName != "" && e.TableName != filter.TableName {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Students returns every student with an invoice or payment, sorted.
func (m *Memory) Students(_ context.Context) ([]string, error) {
	s, done := m.read()
	defer done()

	seen := make(map[string]struct{})
	for _, inv := range s.invoices {
		seen[inv.StudentID] = struct{}{}
	}
	for _, p := range s.payments {
		seen[p.StudentID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Compile-time interface checks.
var (
	_ ledger.Store         = (*Memory)(nil)
	_ ledger.Tx            = (*txView)(nil)
	_ ledger.SettingsStore = (*Memory)(nil)
	_ ledger.AuditLog      = (*Memory)(nil)

	_ ledger.StudentDirectory = (*Memory)(nil)
)
