package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Session is one continuous live transcription/translation interaction of a user
type Session struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	UserID         uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	StartedAt      time.Time         `json:"started_at" gorm:"type:timestamp;not null;index"`
	EndedAt        *time.Time        `json:"ended_at,omitempty" gorm:"type:timestamp"`
	LanguageSource string            `json:"language_source" gorm:"column:language_source;type:varchar(20);not null"`
	LanguageTarget string            `json:"language_target" gorm:"column:language_target;type:varchar(20);not null"`
	DeviceInfo     datatypes.JSONMap `json:"device_info,omitempty" gorm:"type:jsonb"`
}

// TableName specifies the table name for GORM
func (Session) TableName() string {
	return "sessions"
}

// NewSession creates a new open session
func NewSession(userID uuid.UUID, sourceLang, targetLang string, startedAt time.Time) *Session {
	return &Session{
		ID:             uuid.New(),
		UserID:         userID,
		StartedAt:      startedAt,
		LanguageSource: sourceLang,
		LanguageTarget: targetLang,
	}
}

// IsClosed reports whether the end timestamp has been set
func (s *Session) IsClosed() bool {
	return s != nil && s.EndedAt != nil
}

// Close sets the end timestamp. A session is closed at most once.
func (s *Session) Close(endedAt time.Time) error {
	if s.IsClosed() {
		return ErrSessionAlreadyClosed
	}
	s.EndedAt = &endedAt
	return nil
}

// WithDeviceInfo attaches connection metadata captured at open time
func (s *Session) WithDeviceInfo(info map[string]interface{}) *Session {
	if len(info) > 0 {
		s.DeviceInfo = datatypes.JSONMap(info)
	}
	return s
}
