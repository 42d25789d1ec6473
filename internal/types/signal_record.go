package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SignalRecord is one outbox row for the learning-record-store sync.
// SignalID is the engine-generated id ("sig_..."), kept separate from the
// row key so replays from clients stay idempotent.
type SignalRecord struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SignalID string    `gorm:"column:signal_id;not null;uniqueIndex" json:"signal_id"`
	Type     string    `gorm:"column:type;not null;index" json:"type"`

	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID  string    `gorm:"column:course_id" json:"course_id"`
	LessonID  string    `gorm:"column:lesson_id" json:"lesson_id"`
	PageID    string    `gorm:"column:page_id" json:"page_id"`
	AttemptID string    `gorm:"column:attempt_id" json:"attempt_id,omitempty"`

	Timestamp    int64          `gorm:"column:timestamp;not null" json:"timestamp"` // unix ms
	Payload      datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Synced       bool           `gorm:"column:synced;not null;default:false;index" json:"synced"`
	SyncAttempts int            `gorm:"column:sync_attempts;not null;default:0" json:"sync_attempts"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SignalRecord) TableName() string { return "signal_record" }
