package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/types"
)

type SessionRepo interface {
	GetByUserAndLesson(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lessonID string) (*types.SessionRecord, error)
	Upsert(ctx context.Context, tx *gorm.DB, record *types.SessionRecord) (*types.SessionRecord, error)
	DeleteByUserAndLesson(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lessonID string) error
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) GetByUserAndLesson(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lessonID string) (*types.SessionRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var record types.SessionRecord
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND lesson_id = ?", userID, lessonID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *sessionRepo) Upsert(ctx context.Context, tx *gorm.DB, record *types.SessionRecord) (*types.SessionRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot", "policy_version", "updated_at"}),
		}).
		Create(record).Error
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *sessionRepo) DeleteByUserAndLesson(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lessonID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("user_id = ? AND lesson_id = ?", userID, lessonID).
		Delete(&types.SessionRecord{}).Error
}
