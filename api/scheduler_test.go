package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
)

type fixedStudents []string

func (f fixedStudents) Students(context.Context) ([]string, error) { return f, nil }

type brokenStudents struct{}

func (brokenStudents) Students(context.Context) ([]string, error) {
	return nil, errors.New("db down")
}

// stubReconciler reports "bad" as inconsistent and fails on "err".
type stubReconciler struct{}

func (stubReconciler) Reconcile(_ context.Context, id string) (ledger.ReconciliationReport, error) {
	switch id {
	case "bad":
		return ledger.ReconciliationReport{StudentID: id, Balance: decimal.NewFromInt(5), Issues: []string{"receipt chain broken"}}, nil
	case "err":
		return ledger.ReconciliationReport{}, errors.New("read failed")
	}
	return ledger.ReconciliationReport{StudentID: id}, nil
}

func TestScheduler_RunNow(t *testing.T) {
	rs := NewReconciliationScheduler(stubReconciler{}, fixedStudents{"ok", "bad", "err"}, zap.NewNop())

	run := rs.RunNow(context.Background())

	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 3, run.Students)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Inconsistent, 1)
	assert.Equal(t, "bad", run.Inconsistent[0].StudentID)
	assert.False(t, run.CompletedAt.Before(run.StartedAt))
}

func TestScheduler_ListFailure(t *testing.T) {
	rs := NewReconciliationScheduler(stubReconciler{}, brokenStudents{}, zap.NewNop())

	run := rs.RunNow(context.Background())

	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "db down", run.Error)
}

func TestScheduler_KeepsNewestRuns(t *testing.T) {
	rs := NewReconciliationScheduler(stubReconciler{}, fixedStudents{"ok"}, zap.NewNop())
	rs.KeepRuns = 2

	var ids []string
	for range 3 {
		ids = append(ids, rs.RunNow(context.Background()).ID)
	}

	runs := rs.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	rs := NewReconciliationScheduler(stubReconciler{}, fixedStudents{"ok"}, zap.NewNop())
	rs.CheckInterval = time.Hour

	rs.Start()
	assert.Eventually(t, func() bool { return len(rs.Runs()) == 1 }, time.Second, 10*time.Millisecond)
	rs.Stop()
	rs.Stop()
}

func TestScheduler_Disabled(t *testing.T) {
	rs := NewReconciliationScheduler(stubReconciler{}, fixedStudents{"ok"}, zap.NewNop())
	rs.Enabled = false

	rs.Start()
	rs.Stop()

	assert.Empty(t, rs.Runs())
}
