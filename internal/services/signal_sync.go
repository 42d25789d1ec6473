package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/clients/lrs"
	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/repos"
	"github.com/yungbote/adaptivity-backend/internal/types"
	"github.com/yungbote/adaptivity-backend/internal/utils"
)

// SignalSyncWorker drains the outbox on a schedule: unsynced rows are
// converted to xAPI statements and posted to the LRS. Rows that keep
// failing stop being retried once they hit the attempt cutoff.
type SignalSyncWorker struct {
	signalRepo  repos.SignalRepo
	sessionRepo repos.SessionRepo
	client      *lrs.Client
	converter   *lrs.StatementConverter
	cron        *cron.Cron
	batchSize   int
	maxAttempts int
	schedule    string
	log         *logger.Logger
}

func NewSignalSyncWorker(signalRepo repos.SignalRepo, sessionRepo repos.SessionRepo, client *lrs.Client, converter *lrs.StatementConverter, baseLog *logger.Logger) *SignalSyncWorker {
	log := baseLog.With("service", "SignalSyncWorker")
	intervalSec := utils.GetEnvAsInt("SIGNAL_SYNC_INTERVAL_SECONDS", 30, baseLog)
	return &SignalSyncWorker{
		signalRepo:  signalRepo,
		sessionRepo: sessionRepo,
		client:      client,
		converter:   converter,
		batchSize:   utils.GetEnvAsInt("SIGNAL_SYNC_BATCH_SIZE", 100, baseLog),
		maxAttempts: utils.GetEnvAsInt("SIGNAL_SYNC_MAX_ATTEMPTS", 5, baseLog),
		schedule:    fmt.Sprintf("@every %ds", intervalSec),
		log:         log,
	}
}

// Start schedules the sync loop. It is a no-op when no LRS client is
// configured.
func (w *SignalSyncWorker) Start(ctx context.Context) error {
	if w.client == nil {
		w.log.Info("No LRS client configured, signal sync worker idle")
		return nil
	}
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.schedule, func() {
		if err := w.SyncOnce(ctx); err != nil {
			w.log.Error("Signal sync pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule signal sync: %w", err)
	}
	w.cron.Start()
	w.log.Info("Signal sync worker started", "schedule", w.schedule)
	return nil
}

func (w *SignalSyncWorker) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// SyncOnce drains one batch. Exported so tests and admin tooling can force
// a pass without waiting for the schedule.
func (w *SignalSyncWorker) SyncOnce(ctx context.Context) error {
	rows, err := w.signalRepo.GetUnsynced(ctx, nil, w.batchSize, w.maxAttempts)
	if err != nil {
		return fmt.Errorf("load unsynced signals: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	statements := make([]lrs.Statement, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		sig, session, err := w.rebuild(ctx, row)
		if err != nil {
			w.log.Warn("Skipping unreadable signal row", "signalId", row.SignalID, "error", err)
			continue
		}
		statements = append(statements, w.converter.Convert(sig, session))
		ids = append(ids, row.SignalID)
	}
	if len(statements) == 0 {
		return nil
	}

	if _, err := w.client.SendStatements(ctx, statements); err != nil {
		if bumpErr := w.signalRepo.IncrementSyncAttempts(ctx, nil, ids); bumpErr != nil {
			w.log.Error("Failed to bump sync attempts", "error", bumpErr)
		}
		return fmt.Errorf("send statements: %w", err)
	}
	if err := w.signalRepo.MarkSynced(ctx, nil, ids); err != nil {
		return fmt.Errorf("mark signals synced: %w", err)
	}
	w.log.Info("Signals synced", "count", len(ids))
	return nil
}

// rebuild reconstructs the engine signal and the session context it was
// emitted under. When the session record is gone, a minimal snapshot built
// from the row's ids still produces a valid statement.
func (w *SignalSyncWorker) rebuild(ctx context.Context, row *types.SignalRecord) (adaptivity.Signal, *adaptivity.SessionSnapshot, error) {
	var payload map[string]any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return adaptivity.Signal{}, nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	sig := adaptivity.Signal{
		ID:        row.SignalID,
		Type:      row.Type,
		Timestamp: row.Timestamp,
		SessionIDs: adaptivity.SignalIDs{
			UserID:    row.UserID.String(),
			CourseID:  row.CourseID,
			LessonID:  row.LessonID,
			PageID:    row.PageID,
			AttemptID: row.AttemptID,
		},
		Payload: payload,
	}

	ids := adaptivity.SessionIDs{
		UserID:   row.UserID.String(),
		CourseID: row.CourseID,
		LessonID: row.LessonID,
		PageID:   row.PageID,
	}
	record, err := w.sessionRepo.GetByUserAndLesson(ctx, nil, row.UserID, row.LessonID)
	if err != nil || record == nil {
		return sig, adaptivity.NewSnapshot(adaptivity.SnapshotInit{IDs: ids}), nil
	}
	var snapshot adaptivity.SessionSnapshot
	if err := json.Unmarshal(record.Snapshot, &snapshot); err != nil {
		return sig, adaptivity.NewSnapshot(adaptivity.SnapshotInit{IDs: ids}), nil
	}
	return sig, &snapshot, nil
}
