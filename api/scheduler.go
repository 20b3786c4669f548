/*
scheduler.go - Periodic reconciliation sweep

PURPOSE:
  Periodically recomputes every student's account from history and logs
  any identity that does not hold (debt totals, receipt chains, balance).
  The sweep never writes to the ledger; it only reports.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lists students through ledger.StudentDirectory
  - Keeps the most recent runs in memory for GET /api/reconciliation/runs

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - KeepRuns: How many runs to remember (default: 20)

USAGE:
  scheduler := NewReconciliationScheduler(facade, store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerReconciliation endpoint (manual sweep)
  - ledger/statement.go: Reconcile
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
)

// Reconciler recomputes one student's account.
type Reconciler interface {
	Reconcile(ctx context.Context, studentID string) (ledger.ReconciliationReport, error)
}

// ReconciliationRun is the outcome of one sweep.
type ReconciliationRun struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at"`
	Students     int                 `json:"students"`
	Failed       int                 `json:"failed"`
	Inconsistent []ReconciliationDTO `json:"inconsistent"`
	Error        string              `json:"error,omitempty"`
}

// ReconciliationScheduler handles the periodic reconciliation sweep.
type ReconciliationScheduler struct {
	Ledger        Reconciler
	Students      ledger.StudentDirectory
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	KeepRuns      int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []ReconciliationRun
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(l Reconciler, students ledger.StudentDirectory, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Ledger:        l,
		Students:      students,
		Logger:        logger.Named("reconciliation"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		KeepRuns:      20,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow sweeps every student once and records the run.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconciliationRun {
	run := ReconciliationRun{
		ID:           uuid.NewString(),
		Status:       "running",
		StartedAt:    time.Now().UTC(),
		Inconsistent: []ReconciliationDTO{},
	}

	students, err := rs.Students.Students(ctx)
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		rs.Logger.Error("failed to list students", zap.Error(err))
		return rs.record(run)
	}

	for _, id := range students {
		if ctx.Err() != nil {
			run.Status = "cancelled"
			run.Error = ctx.Err().Error()
			return rs.record(run)
		}
		run.Students++

		report, err := rs.Ledger.Reconcile(ctx, id)
		if err != nil {
			run.Failed++
			rs.Logger.Error("failed to reconcile student", zap.String("student_id", id), zap.Error(err))
			continue
		}
		if !report.Consistent() {
			run.Inconsistent = append(run.Inconsistent, toReconciliationDTO(report))
			rs.Logger.Warn("ledger inconsistent",
				zap.String("student_id", id),
				zap.Strings("issues", report.Issues))
		}
	}

	run.Status = "completed"
	rs.Logger.Info("sweep completed",
		zap.Int("students", run.Students),
		zap.Int("inconsistent", len(run.Inconsistent)),
		zap.Int("failed", run.Failed))
	return rs.record(run)
}

func (rs *ReconciliationScheduler) record(run ReconciliationRun) ReconciliationRun {
	run.CompletedAt = time.Now().UTC()

	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()
	rs.runs = append([]ReconciliationRun{run}, rs.runs...)
	if rs.KeepRuns > 0 && len(rs.runs) > rs.KeepRuns {
		rs.runs = rs.runs[:rs.KeepRuns]
	}
	return run
}

// Runs returns the remembered runs, newest first.
func (rs *ReconciliationScheduler) Runs() []ReconciliationRun {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()

	out := make([]ReconciliationRun, len(rs.runs))
	copy(out, rs.runs)
	return out
}
