package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionRecord persists one learner's session snapshot per lesson. The
// snapshot column is the serialized adaptivity.SessionSnapshot, stored as
// an opaque JSON value: the decision engine never reads this table.
type SessionRecord struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index:idx_session_user_lesson,unique,priority:1" json:"user_id"`
	User     *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	CourseID string    `gorm:"column:course_id;not null" json:"course_id"`
	LessonID string    `gorm:"column:lesson_id;not null;index:idx_session_user_lesson,unique,priority:2" json:"lesson_id"`

	Snapshot      datatypes.JSON `gorm:"type:jsonb;column:snapshot;not null" json:"snapshot"`
	PolicyVersion string         `gorm:"column:policy_version" json:"policy_version"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SessionRecord) TableName() string { return "session_record" }
