package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/types"
)

type SignalRepo interface {
	Create(ctx context.Context, tx *gorm.DB, signals []*types.SignalRecord) ([]*types.SignalRecord, error)
	GetUnsynced(ctx context.Context, tx *gorm.DB, limit int, maxAttempts int) ([]*types.SignalRecord, error)
	MarkSynced(ctx context.Context, tx *gorm.DB, signalIDs []string) error
	IncrementSyncAttempts(ctx context.Context, tx *gorm.DB, signalIDs []string) error
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type signalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSignalRepo(db *gorm.DB, baseLog *logger.Logger) SignalRepo {
	return &signalRepo{db: db, log: baseLog.With("repo", "SignalRepo")}
}

func (r *signalRepo) Create(ctx context.Context, tx *gorm.DB, signals []*types.SignalRecord) ([]*types.SignalRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(signals) == 0 {
		return []*types.SignalRecord{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&signals).Error; err != nil {
		return nil, err
	}
	return signals, nil
}

func (r *signalRepo) GetUnsynced(ctx context.Context, tx *gorm.DB, limit int, maxAttempts int) ([]*types.SignalRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.SignalRecord
	q := transaction.WithContext(ctx).
		Where("synced = ?", false).
		Order("timestamp ASC").
		Limit(limit)
	if maxAttempts > 0 {
		q = q.Where("sync_attempts < ?", maxAttempts)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *signalRepo) MarkSynced(ctx context.Context, tx *gorm.DB, signalIDs []string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(signalIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.SignalRecord{}).
		Where("signal_id IN ?", signalIDs).
		Update("synced", true).Error
}

func (r *signalRepo) IncrementSyncAttempts(ctx context.Context, tx *gorm.DB, signalIDs []string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(signalIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.SignalRecord{}).
		Where("signal_id IN ?", signalIDs).
		Update("sync_attempts", gorm.Expr("sync_attempts + 1")).Error
}

func (r *signalRepo) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("synced = ? AND timestamp < ?", true, cutoff.UnixMilli()).
		Delete(&types.SignalRecord{})
	return res.RowsAffected, res.Error
}
