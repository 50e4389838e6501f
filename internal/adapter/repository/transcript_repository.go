package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echonote/echonote/internal/domain/entities"
)

// TranscriptRepository handles transcript chunk and final transcript data operations
type TranscriptRepository struct {
	db *gorm.DB
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// CreateChunk inserts a transcript chunk
func (r *TranscriptRepository) CreateChunk(ctx context.Context, chunk *entities.Transcript) error {
	if chunk == nil {
		return errors.New("transcript cannot be nil")
	}
	if chunk.IsFinal() {
		return errors.New("final transcript must be written with FinalizeChunks")
	}
	if err := r.db.WithContext(ctx).Create(chunk).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return entities.ErrTranscriptExists
		}
		return fmt.Errorf("failed to create transcript chunk: %w", err)
	}
	return nil
}

// FindChunks retrieves the chunks of a session ordered by chunk index
func (r *TranscriptRepository) FindChunks(ctx context.Context, sessionID uuid.UUID) ([]*entities.Transcript, error) {
	var chunks []*entities.Transcript
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND chunk_index >= 0", sessionID).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to find transcript chunks: %w", err)
	}
	return chunks, nil
}

// FindFinal retrieves the merged transcript of a session
func (r *TranscriptRepository) FindFinal(ctx context.Context, sessionID uuid.UUID) (*entities.Transcript, error) {
	var final entities.Transcript
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND chunk_index = ?", sessionID, entities.FinalChunkIndex).
		First(&final).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("failed to find final transcript: %w", err)
	}
	return &final, nil
}

// FinalizeChunks writes the merged transcript and compacts the chunk records atomically
func (r *TranscriptRepository) FinalizeChunks(ctx context.Context, final *entities.Transcript) (int64, error) {
	if final == nil || !final.IsFinal() {
		return 0, errors.New("final transcript required")
	}

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(final).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return entities.ErrTranscriptExists
			}
			return fmt.Errorf("failed to create final transcript: %w", err)
		}

		res := tx.Where("session_id = ? AND chunk_index >= 0", final.SessionID).
			Delete(&entities.Transcript{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete transcript chunks: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
