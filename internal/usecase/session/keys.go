package session

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/echonote/echonote/internal/domain/entities"
)

const mergedAudioStem = "merged"

// SessionKey is the cache key of a session record
func SessionKey(id uuid.UUID) string {
	return fmt.Sprintf("session:%s", id)
}

// TranscriptKey is the cache key of one transcript record; the merged
// transcript uses entities.FinalChunkIndex
func TranscriptKey(sessionID uuid.UUID, index int) string {
	return fmt.Sprintf("transcript:%s:%d", sessionID, index)
}

// FinalTranscriptKey is the cache key of the merged transcript
func FinalTranscriptKey(sessionID uuid.UUID) string {
	return TranscriptKey(sessionID, entities.FinalChunkIndex)
}

// TranscriptPattern matches every transcript key of a session
func TranscriptPattern(sessionID uuid.UUID) string {
	return fmt.Sprintf("transcript:%s:*", sessionID)
}

// SessionPrefix is the blob prefix holding a session's audio
func SessionPrefix(sessionID uuid.UUID) string {
	return sessionID.String() + "/"
}

// ChunkBlobPath is the blob path of one raw audio chunk
func ChunkBlobPath(sessionID uuid.UUID, index int, ext string) string {
	return fmt.Sprintf("%s%d.%s", SessionPrefix(sessionID), index, ext)
}

// MergedBlobPath is the blob path of the merged session audio
func MergedBlobPath(sessionID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s%s.%s", SessionPrefix(sessionID), mergedAudioStem, ext)
}

// blobStem returns the object name without directory and extension
func blobStem(p string) string {
	stem, _, _ := strings.Cut(path.Base(p), ".")
	return stem
}

func contentTypeFor(ext string) string {
	return "audio/" + ext
}
