package session

import (
	"context"
	stdErrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echonote/echonote/errors"
	"github.com/echonote/echonote/internal/domain/entities"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

// TranscriptView is the merged text of a session
type TranscriptView struct {
	SessionID      uuid.UUID `json:"session_id"`
	UserID         uuid.UUID `json:"user_id"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	CreatedAt      time.Time `json:"created_at"`
	Final          bool      `json:"final"`
}

// SessionView is one entry of a user's recent sessions
type SessionView struct {
	SessionID      uuid.UUID  `json:"session_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LanguageSource string     `json:"language_source"`
	LanguageTarget string     `json:"language_target"`
	OriginalText   string     `json:"original_text"`
	TranslatedText string     `json:"translated_text"`
}

// AudioList holds download URLs of a session's audio files
type AudioList struct {
	SessionID uuid.UUID `json:"session_id"`
	AudioURLs []string  `json:"audio_urls"`
}

// GetSession returns a session owned by userID, cache first
func (s *Service) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*entities.Session, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, errors.ErrPermissionDenied("access session")
	}
	return sess, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID uuid.UUID) (*entities.Session, error) {
	var cached entities.Session
	if s.cacheGet(ctx, SessionKey(sessionID), &cached) && cached.ID == sessionID {
		return &cached, nil
	}

	sess, err := s.sessions.FindByID(ctx, sessionID)
	if stdErrors.Is(err, entities.ErrSessionNotFound) {
		return nil, errors.ErrSessionNotFound(sessionID.String())
	}
	if err != nil {
		return nil, errors.ErrPersistenceFailed("find session", err)
	}

	s.cacheSet(ctx, SessionKey(sessionID), sess)
	return sess, nil
}

// GetTranscript returns the merged transcript of a session owned by userID.
// Before finalization the chunks are merged on the fly.
func (s *Service) GetTranscript(ctx context.Context, userID, sessionID uuid.UUID) (*TranscriptView, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	view, err := s.transcriptOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view.UserID = userID
	return view, nil
}

func (s *Service) transcriptOf(ctx context.Context, sessionID uuid.UUID) (*TranscriptView, error) {
	var final entities.Transcript
	if s.cacheGet(ctx, FinalTranscriptKey(sessionID), &final) {
		return finalView(&final), nil
	}

	stored, err := s.transcripts.FindFinal(ctx, sessionID)
	switch {
	case err == nil:
		s.cacheSet(ctx, FinalTranscriptKey(sessionID), stored)
		return finalView(stored), nil
	case !stdErrors.Is(err, entities.ErrTranscriptNotFound):
		return nil, errors.ErrPersistenceFailed("find final transcript", err)
	}

	if chunks := s.cachedChunks(ctx, sessionID); len(chunks) > 0 {
		return chunkView(sessionID, chunks), nil
	}

	chunks, err := s.transcripts.FindChunks(ctx, sessionID)
	if err != nil {
		return nil, errors.ErrPersistenceFailed("find transcript chunks", err)
	}
	if len(chunks) == 0 {
		return nil, errors.ErrTranscriptNotFound(sessionID.String())
	}
	for _, c := range chunks {
		s.cacheSet(ctx, TranscriptKey(sessionID, c.ChunkIndex), c)
	}
	return chunkView(sessionID, chunks), nil
}

// cachedChunks returns the cached chunk records of a session ordered by index
func (s *Service) cachedChunks(ctx context.Context, sessionID uuid.UUID) []*entities.Transcript {
	keys, err := s.cache.Scan(ctx, TranscriptPattern(sessionID))
	if err != nil {
		s.logger.Warn("cache scan failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil
	}

	var chunks []*entities.Transcript
	for _, k := range keys {
		var t entities.Transcript
		if !s.cacheGet(ctx, k, &t) || t.IsFinal() {
			continue
		}
		chunks = append(chunks, &t)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks
}

func finalView(t *entities.Transcript) *TranscriptView {
	return &TranscriptView{
		SessionID:      t.SessionID,
		OriginalText:   t.OriginalText,
		TranslatedText: t.TranslatedText,
		CreatedAt:      t.CreatedAt,
		Final:          true,
	}
}

func chunkView(sessionID uuid.UUID, chunks []*entities.Transcript) *TranscriptView {
	original, translated := JoinChunks(chunks)
	return &TranscriptView{
		SessionID:      sessionID,
		OriginalText:   original,
		TranslatedText: translated,
		CreatedAt:      chunks[0].StartTime,
	}
}

// ListRecent returns the latest sessions of a user with their merged text
func (s *Service) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*SessionView, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	sessions, err := s.sessions.FindRecentByUserID(ctx, userID, limit)
	if err != nil {
		return nil, errors.ErrPersistenceFailed("list sessions", err)
	}

	views := make([]*SessionView, 0, len(sessions))
	for _, sess := range sessions {
		view := &SessionView{
			SessionID:      sess.ID,
			StartedAt:      sess.StartedAt,
			EndedAt:        sess.EndedAt,
			LanguageSource: sess.LanguageSource,
			LanguageTarget: sess.LanguageTarget,
		}
		tv, err := s.transcriptOf(ctx, sess.ID)
		switch {
		case err == nil:
			view.OriginalText = tv.OriginalText
			view.TranslatedText = tv.TranslatedText
		case !errors.IsNotFound(err):
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// ListAudio returns presigned URLs for every audio file of a session
func (s *Service) ListAudio(ctx context.Context, userID, sessionID uuid.UUID, expiry time.Duration) (*AudioList, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	paths, err := s.blobs.List(ctx, SessionPrefix(sessionID))
	if err != nil {
		return nil, errors.ErrStorageFailed("list audio", err)
	}
	if len(paths) == 0 {
		return nil, errors.ErrAudioNotFound(sessionID.String())
	}
	sort.Strings(paths)

	list := &AudioList{SessionID: sessionID, AudioURLs: make([]string, 0, len(paths))}
	for _, p := range paths {
		u, err := s.blobs.PresignedURL(ctx, p, expiry)
		if err != nil {
			return nil, errors.ErrStorageFailed("presign audio url", err)
		}
		list.AudioURLs = append(list.AudioURLs, u)
	}
	return list, nil
}

// OpenMergedAudio returns the merged audio of a session owned by userID
func (s *Service) OpenMergedAudio(ctx context.Context, userID, sessionID uuid.UUID) ([]byte, string, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, "", err
	}

	data, err := s.blobs.Download(ctx, MergedBlobPath(sessionID, s.cfg.AudioExtension))
	if stdErrors.Is(err, entities.ErrBlobNotFound) {
		return nil, "", errors.ErrAudioNotFound(sessionID.String())
	}
	if err != nil {
		return nil, "", errors.ErrStorageFailed("download merged audio", err)
	}
	return data, contentTypeFor(s.cfg.AudioExtension), nil
}
