package session

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/echonote/echonote/errors"
	"github.com/echonote/echonote/internal/domain/entities"
	"github.com/echonote/echonote/internal/domain/repositories"
	"github.com/echonote/echonote/internal/usecase/stream"
	"github.com/echonote/echonote/pkg/jobcontext"
)

// Config tunes the session lifecycle
type Config struct {
	CacheTTL        time.Duration
	QueueCapacity   int
	PersistTimeout  time.Duration
	FinalizeTimeout time.Duration
	Retry           jobcontext.RetryPolicy
	AudioExtension  string
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		CacheTTL:        24 * time.Hour,
		QueueCapacity:   stream.DefaultQueueCapacity,
		PersistTimeout:  30 * time.Second,
		FinalizeTimeout: 2 * time.Minute,
		Retry:           jobcontext.DefaultRetryPolicy(),
		AudioExtension:  "flac",
	}
}

// OpenInput holds the parameters of a new session
type OpenInput struct {
	UserID         uuid.UUID
	SourceLanguage string
	TargetLanguage string
	DeviceInfo     map[string]interface{}
}

// SendFunc delivers a live chunk result to the client
type SendFunc func(ctx context.Context, msg ChunkMessage) error

// Service manages session lifecycles: open, stream, close and finalize,
// plus the cache-aside read side
type Service struct {
	sessions    repositories.SessionRepository
	transcripts repositories.TranscriptRepository
	cache       repositories.Cache
	blobs       repositories.BlobStore
	transcriber stream.Transcriber
	translator  stream.Translator
	finalizer   *Finalizer
	cfg         Config
	logger      *zap.Logger

	// close guard: live sessions by id and in-flight finalizations
	mu      sync.Mutex
	live    map[uuid.UUID]*LiveSession
	idle    chan struct{} // closed when live becomes empty
	closing singleflight.Group
}

// NewService creates a new session service
func NewService(
	sessions repositories.SessionRepository,
	transcripts repositories.TranscriptRepository,
	cache repositories.Cache,
	blobs repositories.BlobStore,
	transcriber stream.Transcriber,
	translator stream.Translator,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = def.FinalizeTimeout
	}
	if cfg.AudioExtension == "" {
		cfg.AudioExtension = def.AudioExtension
	}

	return &Service{
		sessions:    sessions,
		transcripts: transcripts,
		cache:       cache,
		blobs:       blobs,
		transcriber: transcriber,
		translator:  translator,
		finalizer:   NewFinalizer(transcripts, blobs, ConcatJoiner{}, cfg.AudioExtension, logger),
		cfg:         cfg,
		logger:      logger,
		live:        make(map[uuid.UUID]*LiveSession),
	}
}

// Finalizer exposes the merge operations
func (s *Service) Finalizer() *Finalizer {
	return s.finalizer
}

// LiveSession is an open session accepting audio
type LiveSession struct {
	svc     *Service
	session *entities.Session
	logger  *zap.Logger

	persist         errgroup.Group
	chunks          atomic.Int64
	persistFailures atomic.Int64
	clientGone      atomic.Bool
	stats           stream.Stats
}

// ID returns the session id
func (ls *LiveSession) ID() uuid.UUID {
	return ls.session.ID
}

// Session returns the session record as created at open time
func (ls *LiveSession) Session() *entities.Session {
	return ls.session
}

// Stats returns the pipeline counters once Stream has returned
func (ls *LiveSession) Stats() stream.Stats {
	return ls.stats
}

// Open records a new session in the durable store and the cache
func (s *Service) Open(ctx context.Context, input OpenInput) (*LiveSession, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.ErrUnauthenticated()
	}
	src := strings.TrimSpace(input.SourceLanguage)
	tgt := strings.TrimSpace(input.TargetLanguage)
	if src == "" || tgt == "" {
		return nil, errors.ErrInvalidArgument("source and target languages are required")
	}

	sess := entities.NewSession(input.UserID, src, tgt, time.Now().UTC()).WithDeviceInfo(input.DeviceInfo)
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, errors.ErrPersistenceFailed("create session", err)
	}
	s.cacheSet(ctx, SessionKey(sess.ID), sess)

	ls := &LiveSession{
		svc:     s,
		session: sess,
		logger:  s.logger.With(zap.String("session_id", sess.ID.String())),
	}

	s.mu.Lock()
	s.live[sess.ID] = ls
	s.mu.Unlock()

	ls.logger.Info("session opened",
		zap.String("user_id", input.UserID.String()),
		zap.String("source", src),
		zap.String("target", tgt),
	)
	return ls, nil
}

// Stream runs the audio of src through the pipeline. Each result is
// persisted by a tracked background job and sent to the client. A failed
// send marks the client as gone; the remaining chunks are still processed
// and persisted.
func (ls *LiveSession) Stream(ctx context.Context, src stream.ChunkSource, send SendFunc) error {
	s := ls.svc
	pipeline := stream.NewPipeline(s.transcriber, s.translator, ls.logger, stream.WithQueueCapacity(s.cfg.QueueCapacity))
	langs := stream.Languages{Source: ls.session.LanguageSource, Target: ls.session.LanguageTarget}

	err := pipeline.Run(ctx, src, langs, func(ctx context.Context, res stream.Result) error {
		ls.chunks.Add(1)
		ls.startPersist(ctx, res)

		if ls.clientGone.Load() || send == nil {
			return nil
		}
		msg := ChunkMessage{
			ChunkIndex:     res.Index,
			OriginalText:   res.Transcription,
			TranslatedText: res.Translation,
		}
		if err := send(ctx, msg); err != nil {
			ls.clientGone.Store(true)
			ls.logger.Warn("failed to send chunk result, client gone",
				zap.Int("chunk_index", res.Index),
				zap.Error(err),
			)
		}
		return nil
	})
	ls.stats = pipeline.Stats()
	return err
}

// startPersist launches the tracked persistence job of one chunk. The job
// outlives the connection context and is bounded by its own timeout.
func (ls *LiveSession) startPersist(ctx context.Context, res stream.Result) {
	s := ls.svc
	base := context.WithoutCancel(ctx)

	ls.persist.Go(func() error {
		jobCtx, cancel := jobcontext.JobBegin(base, ls.session.ID, jobcontext.JobPersistChunk, res.Index, s.cfg.PersistTimeout)
		defer cancel()

		if err := s.persistChunk(jobCtx, ls.session.ID, res); err != nil {
			ls.persistFailures.Add(1)
			ls.logger.Error("failed to persist chunk", append(jobFields(jobCtx), zap.Error(err))...)
			return err
		}
		return nil
	})
}

func (s *Service) persistChunk(ctx context.Context, sessionID uuid.UUID, res stream.Result) error {
	if len(res.Chunk) > 0 {
		blobPath := ChunkBlobPath(sessionID, res.Index, s.cfg.AudioExtension)
		err := jobcontext.JobEnd(ctx, s.cfg.Retry, func(ctx context.Context) error {
			return s.blobs.Upload(ctx, blobPath, res.Chunk, contentTypeFor(s.cfg.AudioExtension))
		})
		if err != nil {
			return errors.ErrPersistenceFailed("upload audio chunk", err).WithDetail("path", blobPath)
		}
	}

	record := entities.NewTranscriptChunk(sessionID, res.Index, res.ReceivedAt, res.CompletedAt, res.Transcription, res.Translation)
	err := jobcontext.JobEnd(ctx, s.cfg.Retry, func(ctx context.Context) error {
		err := s.transcripts.CreateChunk(ctx, record)
		if stdErrors.Is(err, entities.ErrTranscriptExists) {
			// an earlier attempt committed
			return nil
		}
		return err
	})
	if err != nil {
		return errors.ErrPersistenceFailed("insert transcript chunk", err)
	}

	s.cacheSet(ctx, TranscriptKey(sessionID, res.Index), record)
	return nil
}

// Close finalizes the live session
func (ls *LiveSession) Close(ctx context.Context) (*Summary, error) {
	return ls.svc.Close(ctx, ls.session.ID)
}

// Close finalizes a session exactly once. Concurrent callers share the
// in-flight finalization; later callers get the summary of the closed
// session without redoing any work.
func (s *Service) Close(ctx context.Context, sessionID uuid.UUID) (*Summary, error) {
	v, err, shared := s.closing.Do(sessionID.String(), func() (interface{}, error) {
		s.mu.Lock()
		ls := s.live[sessionID]
		s.mu.Unlock()

		summary, err := s.finalize(ctx, sessionID, ls)

		s.mu.Lock()
		s.releaseLocked(sessionID)
		s.mu.Unlock()
		return summary, err
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("close shared in-flight finalization", zap.String("session_id", sessionID.String()))
	}
	return v.(*Summary), nil
}

func (s *Service) finalize(ctx context.Context, sessionID uuid.UUID, ls *LiveSession) (*Summary, error) {
	// finalization must complete even when the client is gone
	ctx, cancel := jobcontext.JobBegin(context.WithoutCancel(ctx), sessionID, jobcontext.JobFinalize, entities.FinalChunkIndex, s.cfg.FinalizeTimeout)
	defer cancel()
	log := s.logger.With(zap.String("session_id", sessionID.String()))

	sess, err := s.sessions.FindByID(ctx, sessionID)
	if stdErrors.Is(err, entities.ErrSessionNotFound) {
		return nil, errors.ErrSessionNotFound(sessionID.String())
	}
	if err != nil {
		return nil, errors.ErrPersistenceFailed("find session", err)
	}
	if sess.IsClosed() {
		chunks, err := s.transcripts.FindChunks(ctx, sessionID)
		if err != nil {
			return nil, errors.ErrPersistenceFailed("find transcript chunks", err)
		}
		if len(chunks) == 0 {
			return s.closedSummary(ctx, sess), nil
		}
		// chunk rows survived an earlier close: finish their merge
		log.Warn("closed session still has transcript chunks, merging again", zap.Int("chunks", len(chunks)))
	}

	summary := &Summary{SessionID: sessionID}

	// Closing: wait for every persistence job of the session
	if ls != nil {
		_ = ls.persist.Wait()
		summary.ChunkCount = int(ls.chunks.Load())
		if failed := ls.persistFailures.Load(); failed > 0 {
			summary.add(StepPersistence, StepError, fmt.Sprintf("%d of %d chunk(s) failed to persist", failed, summary.ChunkCount))
		} else {
			summary.add(StepPersistence, StepOK, "")
		}
	} else {
		summary.add(StepPersistence, StepOK, "no live stream attached")
	}

	// text and audio merge are independent
	var (
		textMerge  *TranscriptMerge
		textErr    error
		audioMerge *AudioMerge
		audioErr   error
		merges     errgroup.Group
	)
	merges.Go(func() error {
		textMerge, textErr = s.finalizer.MergeTranscript(ctx, sessionID)
		return nil
	})
	merges.Go(func() error {
		audioMerge, audioErr = s.finalizer.MergeAudio(ctx, sessionID)
		return nil
	})
	_ = merges.Wait()

	switch {
	case textErr == nil:
		summary.add(StepTranscriptMerge, StepOK, "")
		summary.CreatedAt = textMerge.Final.CreatedAt
		if ls == nil {
			summary.ChunkCount = textMerge.Chunks
		}
		summary.Cached = s.cacheSet(ctx, FinalTranscriptKey(sessionID), textMerge.Final)
		s.invalidateChunkKeys(ctx, sessionID)
	case errors.IsNotFound(textErr):
		summary.add(StepTranscriptMerge, StepWarning, "no transcript chunks to merge")
	default:
		log.Error("transcript merge failed", append(jobFields(ctx), zap.Error(textErr))...)
		summary.add(StepTranscriptMerge, StepError, textErr.Error())
	}
	textFailed := textErr != nil && !errors.IsNotFound(textErr)

	switch {
	case audioErr == nil:
		summary.add(StepAudioMerge, StepOK, fmt.Sprintf("%d part(s) merged into %s", audioMerge.Parts, audioMerge.Path))
	case stdErrors.Is(audioErr, entities.ErrNoAudioChunks):
		summary.add(StepAudioMerge, StepWarning, audioErr.Error())
	default:
		log.Error("audio merge failed", append(jobFields(ctx), zap.Error(audioErr))...)
		summary.add(StepAudioMerge, StepError, audioErr.Error())
	}

	endedAt := time.Now().UTC()
	switch {
	case sess.IsClosed():
		endedAt = *sess.EndedAt
		summary.add(StepSessionEnd, StepOK, "session already closed")
	case textFailed:
		// left open so the next close retries the merge
		summary.add(StepSessionEnd, StepWarning, "session left open until its transcript is merged")
	default:
		err = s.sessions.MarkEnded(ctx, sessionID, endedAt)
		switch {
		case err == nil, stdErrors.Is(err, entities.ErrSessionAlreadyClosed):
			_ = sess.Close(endedAt)
			s.cacheSet(ctx, SessionKey(sessionID), sess)
			summary.add(StepSessionEnd, StepOK, "")
		default:
			log.Error("failed to end session", append(jobFields(ctx), zap.Error(err))...)
			summary.add(StepSessionEnd, StepError, errors.ErrPersistenceFailed("end session", err).Error())
		}
	}

	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = endedAt
	}
	summary.resolve()

	log.Info("session finalized",
		zap.String("status", summary.Status),
		zap.Int("chunk_count", summary.ChunkCount),
		zap.Bool("cached", summary.Cached),
	)
	return summary, nil
}

// closedSummary describes a session finalized by an earlier call
func (s *Service) closedSummary(ctx context.Context, sess *entities.Session) *Summary {
	summary := &Summary{
		SessionID: sess.ID,
		CreatedAt: *sess.EndedAt,
	}

	var final entities.Transcript
	if s.cacheGet(ctx, FinalTranscriptKey(sess.ID), &final) {
		summary.Cached = true
		summary.CreatedAt = final.CreatedAt
		summary.add(StepTranscriptMerge, StepOK, "")
	} else if f, err := s.transcripts.FindFinal(ctx, sess.ID); err == nil {
		summary.CreatedAt = f.CreatedAt
		summary.add(StepTranscriptMerge, StepOK, "")
	} else {
		summary.add(StepTranscriptMerge, StepWarning, "no final transcript")
	}
	summary.add(StepSessionEnd, StepOK, "session already closed")
	summary.resolve()
	return summary
}

// releaseLocked drops a session from the live set and wakes Wait callers
// once the set is empty. Caller holds s.mu.
func (s *Service) releaseLocked(sessionID uuid.UUID) {
	delete(s.live, sessionID)
	if len(s.live) == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// Wait blocks until every open session has been finalized or ctx is done.
// Sessions opened while waiting are waited for too.
func (s *Service) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.live) == 0 {
			s.mu.Unlock()
			return nil
		}
		if s.idle == nil {
			s.idle = make(chan struct{})
		}
		idle := s.idle
		n := len(s.live)
		s.mu.Unlock()

		s.logger.Info("waiting for live sessions to finalize", zap.Int("count", n))
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// jobFields renders the job metadata carried by ctx as log fields
func jobFields(ctx context.Context) []zap.Field {
	meta := jobcontext.GetJobMetadata(ctx)
	return []zap.Field{
		zap.String("job_type", meta.JobType),
		zap.Int("chunk_index", meta.ChunkIndex),
		zap.Int("retry_attempt", meta.RetryAttempt),
		zap.Duration("elapsed", time.Since(meta.StartTime)),
	}
}

// invalidateChunkKeys drops the per-chunk cache entries of a merged session;
// leftovers expire with their ttl
func (s *Service) invalidateChunkKeys(ctx context.Context, sessionID uuid.UUID) {
	keys, err := s.cache.Scan(ctx, TranscriptPattern(sessionID))
	if err != nil {
		s.logger.Warn("failed to scan chunk cache keys", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}

	final := FinalTranscriptKey(sessionID)
	stale := keys[:0]
	for _, k := range keys {
		if k != final {
			stale = append(stale, k)
		}
	}
	if err := s.cache.Delete(ctx, stale...); err != nil {
		s.logger.Warn("failed to delete chunk cache keys", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

// cacheSet writes a JSON value; failures are logged and reported as false
func (s *Service) cacheSet(ctx context.Context, key string, value interface{}) bool {
	b, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("failed to encode cache value", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := s.cache.Set(ctx, key, string(b), s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(errors.ErrCacheFailed("set", err)))
		return false
	}
	return true
}

// cacheGet reads a JSON value; misses, errors and undecodable values all report false
func (s *Service) cacheGet(ctx context.Context, key string, out interface{}) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(errors.ErrCacheFailed("get", err)))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.logger.Warn("discarding undecodable cache value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
