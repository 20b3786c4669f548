/*
Package audit delivers ledger audit events.

PURPOSE:
  The ledger emits one AuditEvent per Invoice/Debt/Payment/Receipt change
  after the change commits. This package decides where those events go:

  - LogSink:  writes each event as a structured zap log line
  - Fanout:   forwards to several sinks, e.g. the log and the database

  Persistent storage is provided by the stores themselves
  (ledger/store.Memory, store/sqlstore.Store both implement ledger.AuditLog).
*/
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
)

// LogSink writes audit events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Emit(_ context.Context, events []ledger.AuditEvent) error {
	for _, e := range events {
		fields := []zap.Field{
			zap.String("event_id", e.ID),
			zap.String("actor_id", e.ActorID),
			zap.String("action", string(e.Action)),
			zap.String("table", e.TableName),
			zap.String("record_id", e.RecordID),
			zap.String("student_id", e.StudentID),
			zap.Time("at", e.Timestamp),
		}
		if len(e.Details) > 0 {
			fields = append(fields, zap.Any("details", e.Details))
		}
		s.logger.Info("audit", fields...)
	}
	return nil
}

// Fanout forwards every batch to each sink in order. A failing sink does
// not stop the others; all errors are returned joined.
type Fanout []ledger.AuditSink

func (f Fanout) Emit(ctx context.Context, events []ledger.AuditEvent) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ledger.AuditSink = (*LogSink)(nil)
	_ ledger.AuditSink = Fanout(nil)
)
