package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/tuition-ledger/audit"
	"github.com/warp/tuition-ledger/ledger"
	"github.com/warp/tuition-ledger/ledger/store"
)

func sampleEvents() []ledger.AuditEvent {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return []ledger.AuditEvent{
		{ID: "e1", ActorID: "clerk-1", Action: ledger.AuditPaymentRecorded, TableName: "payments", RecordID: "7", StudentID: "S", Details: map[string]string{"amount_paid": "1000.00"}, Timestamp: at},
		{ID: "e2", ActorID: "clerk-1", Action: ledger.AuditReceiptIssued, TableName: "receipts", RecordID: "7", StudentID: "S", Timestamp: at},
	}
}

func TestLogSink_WritesOneLinePerEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := audit.NewLogSink(zap.New(core))

	require.NoError(t, sink.Emit(context.Background(), sampleEvents()))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "audit", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "payment_recorded", fields["action"])
	assert.Equal(t, "S", fields["student_id"])
	assert.Contains(t, fields, "details")
	assert.NotContains(t, entries[1].ContextMap(), "details")
}

type failing struct{}

func (failing) Emit(context.Context, []ledger.AuditEvent) error { return errors.New("down") }

func TestFanout_ContinuesPastFailures(t *testing.T) {
	mem := store.NewMemory()
	core, logs := observer.New(zapcore.InfoLevel)

	err := audit.Fanout{failing{}, audit.NewLogSink(zap.New(core)), mem}.Emit(context.Background(), sampleEvents())

	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, logs.Len())
	stored, qerr := mem.QueryAudit(context.Background(), ledger.AuditFilter{StudentID: "S"})
	require.NoError(t, qerr)
	assert.Len(t, stored, 2)
}

func TestFacade_EmitsThroughFanout(t *testing.T) {
	// GIVEN: A facade wired to a log sink and the store
	// WHEN: An invoice is issued
	// THEN: Both sinks see invoice_created and debt_created

	mem := store.NewMemory()
	core, logs := observer.New(zapcore.InfoLevel)
	l := ledger.NewFacade(mem, ledger.WithAuditSink(audit.Fanout{audit.NewLogSink(zap.New(core)), mem}))

	_, _, err := l.IssueInvoice(context.Background(), ledger.System, ledger.InvoiceRequest{
		StudentID: "S", SessionID: "s1", FeeType: ledger.FeeClass, Amount: decimal.RequireFromString("1600"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterField(zap.String("action", "invoice_created")).Len())
	assert.Equal(t, 1, logs.FilterField(zap.String("action", "debt_created")).Len())
	stored, err := mem.QueryAudit(context.Background(), ledger.AuditFilter{TableName: "invoices"})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
