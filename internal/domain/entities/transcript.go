package entities

import (
	"time"

	"github.com/google/uuid"
)

// FinalChunkIndex marks the merged transcript record of a session
const FinalChunkIndex = -1

// Transcript is either one transcript chunk (ChunkIndex >= 0) or the merged
// final transcript of a session (ChunkIndex == FinalChunkIndex)
type Transcript struct {
	ID             uuid.UUID  `json:"transcript_id" gorm:"column:transcript_id;type:uuid;primary_key"`
	SessionID      uuid.UUID  `json:"session_id" gorm:"type:uuid;not null;uniqueIndex:idx_transcripts_session_chunk"`
	ChunkIndex     int        `json:"chunk_index" gorm:"not null;uniqueIndex:idx_transcripts_session_chunk"`
	StartTime      time.Time  `json:"start_time" gorm:"type:timestamp;not null"`
	EndTime        *time.Time `json:"end_time,omitempty" gorm:"type:timestamp"`
	OriginalText   string     `json:"original_text" gorm:"type:text"`
	TranslatedText string     `json:"translated_text" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM
func (Transcript) TableName() string {
	return "transcripts"
}

// NewTranscriptChunk creates the record of one processed audio chunk
func NewTranscriptChunk(sessionID uuid.UUID, index int, startTime, endTime time.Time, original, translated string) *Transcript {
	return &Transcript{
		ID:             uuid.New(),
		SessionID:      sessionID,
		ChunkIndex:     index,
		StartTime:      startTime,
		EndTime:        &endTime,
		OriginalText:   original,
		TranslatedText: translated,
		CreatedAt:      time.Now(),
	}
}

// NewFinalTranscript creates the merged transcript record of a session
func NewFinalTranscript(sessionID uuid.UUID, startTime time.Time, original, translated string) *Transcript {
	return &Transcript{
		ID:             uuid.New(),
		SessionID:      sessionID,
		ChunkIndex:     FinalChunkIndex,
		StartTime:      startTime,
		OriginalText:   original,
		TranslatedText: translated,
		CreatedAt:      time.Now(),
	}
}

// IsFinal reports whether this is the merged record
func (t *Transcript) IsFinal() bool {
	return t.ChunkIndex == FinalChunkIndex
}
