package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/echonote/echonote/internal/domain/entities"
)

// TranscriptRepository defines the interface for transcript chunk and final transcript access
type TranscriptRepository interface {
	// CreateChunk inserts one chunk record; entities.ErrTranscriptExists on a duplicate (session, index)
	CreateChunk(ctx context.Context, chunk *entities.Transcript) error

	// FindChunks returns the chunk records (index >= 0) of a session ordered by index
	FindChunks(ctx context.Context, sessionID uuid.UUID) ([]*entities.Transcript, error)

	// FindFinal returns the merged record of a session or entities.ErrTranscriptNotFound
	FindFinal(ctx context.Context, sessionID uuid.UUID) (*entities.Transcript, error)

	// FinalizeChunks inserts the merged record and deletes the chunk records in one
	// transaction, returning the number of deleted chunks. entities.ErrTranscriptExists
	// is returned when the session already has a merged record.
	FinalizeChunks(ctx context.Context, final *entities.Transcript) (int64, error)
}
