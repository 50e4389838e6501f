package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/echonote/echonote/internal/domain/entities"
)

// SessionResponse represents a session in API responses
type SessionResponse struct {
	ID             uuid.UUID              `json:"id"`
	UserID         uuid.UUID              `json:"user_id"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
	LanguageSource string                 `json:"language_source"`
	LanguageTarget string                 `json:"language_target"`
	Active         bool                   `json:"active"`
	DeviceInfo     map[string]interface{} `json:"device_info,omitempty"`
}

// ToSessionResponse converts a session entity to its API shape
func ToSessionResponse(s *entities.Session) *SessionResponse {
	if s == nil {
		return nil
	}
	return &SessionResponse{
		ID:             s.ID,
		UserID:         s.UserID,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		LanguageSource: s.LanguageSource,
		LanguageTarget: s.LanguageTarget,
		Active:         !s.IsClosed(),
		DeviceInfo:     s.DeviceInfo,
	}
}

// ErrorMessage is sent over the live socket when the session cannot proceed
type ErrorMessage struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
