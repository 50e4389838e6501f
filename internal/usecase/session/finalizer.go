package session

import (
	"bytes"
	"context"
	stdErrors "errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echonote/echonote/errors"
	"github.com/echonote/echonote/internal/domain/entities"
	"github.com/echonote/echonote/internal/domain/repositories"
)

// AudioJoiner combines ordered audio chunks into one payload
type AudioJoiner interface {
	Join(parts [][]byte) ([]byte, error)
}

// ConcatJoiner joins chunks by plain byte concatenation
type ConcatJoiner struct{}

// Join implements AudioJoiner
func (ConcatJoiner) Join(parts [][]byte) ([]byte, error) {
	return bytes.Join(parts, nil), nil
}

// TranscriptMerge is the result of MergeTranscript
type TranscriptMerge struct {
	Final *entities.Transcript
	// Chunks is the number of chunk records folded into Final
	Chunks int
	// AlreadyFinal is set when the session had been merged before
	AlreadyFinal bool
}

// AudioMerge is the result of MergeAudio
type AudioMerge struct {
	Path  string
	Parts int
	Bytes int
}

// Finalizer merges and compacts the per-chunk records of a session
type Finalizer struct {
	transcripts repositories.TranscriptRepository
	blobs       repositories.BlobStore
	joiner      AudioJoiner
	ext         string
	logger      *zap.Logger
}

// NewFinalizer creates a finalizer; a nil joiner means byte concatenation
func NewFinalizer(transcripts repositories.TranscriptRepository, blobs repositories.BlobStore, joiner AudioJoiner, ext string, logger *zap.Logger) *Finalizer {
	if joiner == nil {
		joiner = ConcatJoiner{}
	}
	if ext == "" {
		ext = "flac"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		transcripts: transcripts,
		blobs:       blobs,
		joiner:      joiner,
		ext:         ext,
		logger:      logger,
	}
}

// JoinChunks concatenates the original and translated texts of chunks, in
// the given order, separated by one space and trimmed
func JoinChunks(chunks []*entities.Transcript) (original, translated string) {
	origs := make([]string, len(chunks))
	trans := make([]string, len(chunks))
	for i, c := range chunks {
		origs[i] = c.OriginalText
		trans[i] = c.TranslatedText
	}
	return strings.TrimSpace(strings.Join(origs, " ")), strings.TrimSpace(strings.Join(trans, " "))
}

// MergeTranscript folds the chunk records of a session into its final
// transcript and deletes them in one transaction. Calling it again after a
// successful merge returns the stored final transcript.
func (f *Finalizer) MergeTranscript(ctx context.Context, sessionID uuid.UUID) (*TranscriptMerge, error) {
	chunks, err := f.transcripts.FindChunks(ctx, sessionID)
	if err != nil {
		return nil, errors.ErrPersistenceFailed("find transcript chunks", err)
	}

	if len(chunks) == 0 {
		final, err := f.transcripts.FindFinal(ctx, sessionID)
		if err == nil {
			return &TranscriptMerge{Final: final, AlreadyFinal: true}, nil
		}
		if stdErrors.Is(err, entities.ErrTranscriptNotFound) {
			return nil, errors.ErrTranscriptNotFound(sessionID.String())
		}
		return nil, errors.ErrPersistenceFailed("find final transcript", err)
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

	original, translated := JoinChunks(chunks)
	start := chunks[0].StartTime
	if start.IsZero() {
		start = time.Now()
	}
	final := entities.NewFinalTranscript(sessionID, start, original, translated)

	deleted, err := f.transcripts.FinalizeChunks(ctx, final)
	if stdErrors.Is(err, entities.ErrTranscriptExists) {
		// another finalizer won the race
		existing, ferr := f.transcripts.FindFinal(ctx, sessionID)
		if ferr != nil {
			return nil, errors.ErrMergeFailed("transcript", ferr)
		}
		return &TranscriptMerge{Final: existing, AlreadyFinal: true}, nil
	}
	if err != nil {
		return nil, errors.ErrMergeFailed("transcript", err)
	}

	f.logger.Info("transcript merged",
		zap.String("session_id", sessionID.String()),
		zap.Int("chunks", len(chunks)),
		zap.Int64("deleted", deleted),
	)
	return &TranscriptMerge{Final: final, Chunks: len(chunks)}, nil
}

// MergeAudio concatenates the raw chunk blobs of a session in chunk order,
// uploads the merged file and then removes the chunks. A session without
// chunks yields entities.ErrNoAudioChunks.
func (f *Finalizer) MergeAudio(ctx context.Context, sessionID uuid.UUID) (*AudioMerge, error) {
	paths, err := f.blobs.List(ctx, SessionPrefix(sessionID))
	if err != nil {
		return nil, errors.ErrStorageFailed("list audio chunks", err)
	}

	ordered, err := SortChunkPaths(paths)
	if err != nil {
		return nil, errors.ErrMergeFailed("audio", err)
	}
	if len(ordered) == 0 {
		return nil, entities.ErrNoAudioChunks
	}

	parts := make([][]byte, 0, len(ordered))
	for _, p := range ordered {
		data, err := f.blobs.Download(ctx, p)
		if err != nil {
			return nil, errors.ErrMergeFailed("audio", err).WithDetail("path", p)
		}
		parts = append(parts, data)
	}

	merged, err := f.joiner.Join(parts)
	if err != nil {
		return nil, errors.ErrMergeFailed("audio", err)
	}

	target := MergedBlobPath(sessionID, f.ext)
	if err := f.blobs.Upload(ctx, target, merged, contentTypeFor(f.ext)); err != nil {
		return nil, errors.ErrMergeFailed("audio", err).WithDetail("path", target)
	}

	// chunks are only removed once the merged file is stored
	if err := f.blobs.Delete(ctx, ordered...); err != nil {
		f.logger.Warn("failed to delete merged audio chunks",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
	}

	f.logger.Info("audio merged",
		zap.String("session_id", sessionID.String()),
		zap.Int("parts", len(ordered)),
		zap.Int("bytes", len(merged)),
	)
	return &AudioMerge{Path: target, Parts: len(ordered), Bytes: len(merged)}, nil
}

// SortChunkPaths orders chunk blob paths by their encoded index. The merged
// file is skipped. Names must be either all numeric (sorted numerically) or
// all non-numeric (sorted lexically); a mix is rejected.
func SortChunkPaths(paths []string) ([]string, error) {
	type entry struct {
		path  string
		stem  string
		index int
	}

	var numeric, named []entry
	for _, p := range paths {
		stem := blobStem(p)
		if stem == "" || stem == mergedAudioStem {
			continue
		}
		if idx, err := strconv.Atoi(stem); err == nil && idx >= 0 {
			numeric = append(numeric, entry{path: p, stem: stem, index: idx})
		} else {
			named = append(named, entry{path: p, stem: stem})
		}
	}

	if len(numeric) > 0 && len(named) > 0 {
		return nil, entities.ErrMixedChunkNaming
	}

	entries := numeric
	if len(named) > 0 {
		entries = named
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].stem < entries[j].stem })
	} else {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.path
	}
	return out, nil
}
