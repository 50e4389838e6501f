package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/echonote/echonote/internal/domain/entities"
)

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	// Create inserts a new session
	Create(ctx context.Context, session *entities.Session) error

	// FindByID finds a session by ID, returning entities.ErrSessionNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*entities.Session, error)

	// FindRecentByUserID returns the latest sessions of a user, newest first
	FindRecentByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*entities.Session, error)

	// MarkEnded sets ended_at on a session that has not ended yet
	MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error
}
