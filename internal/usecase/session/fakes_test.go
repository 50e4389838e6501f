package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/echonote/echonote/internal/domain/entities"
	"github.com/echonote/echonote/internal/infrastructure/cache"
	"github.com/echonote/echonote/internal/usecase/stream"
	"github.com/echonote/echonote/pkg/jobcontext"
)

type memSessionRepo struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]entities.Session
	finds    atomic.Int64
	endCalls atomic.Int64
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{rows: make(map[uuid.UUID]entities.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *entities.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = *s
	return nil
}

func (r *memSessionRepo) FindByID(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	r.finds.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, entities.ErrSessionNotFound
	}
	return &s, nil
}

func (r *memSessionRepo) FindRecentByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Session
	for _, s := range r.rows {
		if s.UserID == userID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSessionRepo) MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	r.endCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return entities.ErrSessionNotFound
	}
	if s.EndedAt != nil {
		return entities.ErrSessionAlreadyClosed
	}
	s.EndedAt = &endedAt
	r.rows[id] = s
	return nil
}

type memTranscriptRepo struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]map[int]entities.Transcript
	finalizes atomic.Int64
	// failCreate returns the given errors on the first CreateChunk calls
	failCreate []error
	// failFinalize returns the given errors on the first FinalizeChunks calls
	failFinalize []error
	// createDelay holds every CreateChunk call
	createDelay time.Duration
}

func newMemTranscriptRepo() *memTranscriptRepo {
	return &memTranscriptRepo{rows: make(map[uuid.UUID]map[int]entities.Transcript)}
}

func (r *memTranscriptRepo) CreateChunk(ctx context.Context, t *entities.Transcript) error {
	if r.createDelay > 0 {
		time.Sleep(r.createDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failCreate) > 0 {
		err := r.failCreate[0]
		r.failCreate = r.failCreate[1:]
		return err
	}
	return r.insertLocked(t)
}

func (r *memTranscriptRepo) insertLocked(t *entities.Transcript) error {
	m, ok := r.rows[t.SessionID]
	if !ok {
		m = make(map[int]entities.Transcript)
		r.rows[t.SessionID] = m
	}
	if _, dup := m[t.ChunkIndex]; dup {
		return entities.ErrTranscriptExists
	}
	m[t.ChunkIndex] = *t
	return nil
}

func (r *memTranscriptRepo) FindChunks(ctx context.Context, sid uuid.UUID) ([]*entities.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Transcript
	for idx, t := range r.rows[sid] {
		if idx >= 0 {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *memTranscriptRepo) FindFinal(ctx context.Context, sid uuid.UUID) (*entities.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[sid][entities.FinalChunkIndex]
	if !ok {
		return nil, entities.ErrTranscriptNotFound
	}
	return &t, nil
}

func (r *memTranscriptRepo) FinalizeChunks(ctx context.Context, final *entities.Transcript) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failFinalize) > 0 {
		err := r.failFinalize[0]
		r.failFinalize = r.failFinalize[1:]
		return 0, err
	}
	if err := r.insertLocked(final); err != nil {
		return 0, err
	}
	r.finalizes.Add(1)
	var deleted int64
	for idx := range r.rows[final.SessionID] {
		if idx >= 0 {
			delete(r.rows[final.SessionID], idx)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memTranscriptRepo) count(sid uuid.UUID) (chunks, finals int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx := range r.rows[sid] {
		if idx == entities.FinalChunkIndex {
			finals++
		} else {
			chunks++
		}
	}
	return chunks, finals
}

type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	// uploadDelay holds every Upload call
	uploadDelay time.Duration
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

// List returns paths in reverse lexical order so callers cannot rely on listing order
func (b *memBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for p := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func (b *memBlobStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if b.uploadDelay > 0 {
		time.Sleep(b.uploadDelay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.objects[path]
	if !ok {
		return nil, entities.ErrBlobNotFound
	}
	return d, nil
}

func (b *memBlobStore) Delete(ctx context.Context, paths ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		delete(b.objects, p)
	}
	return nil
}

func (b *memBlobStore) PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	return "https://blobs.test/" + path + "?expires=" + expiry.String(), nil
}

func (b *memBlobStore) has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok
}

// brokenCache fails every operation
type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("cache down")
}
func (brokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("cache down")
}
func (brokenCache) Delete(ctx context.Context, keys ...string) error { return errors.New("cache down") }
func (brokenCache) Scan(ctx context.Context, pattern string) ([]string, error) {
	return nil, errors.New("cache down")
}

// echoTranscriber returns the audio bytes as text
type echoTranscriber struct{}

func (echoTranscriber) Transcribe(ctx context.Context, audio []byte, lang string) (string, error) {
	return string(audio), nil
}

// dictTranslator translates known words and fails otherwise
type dictTranslator map[string]string

func (d dictTranslator) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	if t, ok := d[text]; ok {
		return t, nil
	}
	return text, fmt.Errorf("no translation for %q", text)
}

func wordSource(words ...string) stream.ChunkSource {
	var mu sync.Mutex
	i := 0
	return stream.ChunkSourceFunc(func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(words) {
			return nil, io.EOF
		}
		w := words[i]
		i++
		return []byte(w), nil
	})
}

type testEnv struct {
	svc         *Service
	sessions    *memSessionRepo
	transcripts *memTranscriptRepo
	blobs       *memBlobStore
	cache       *cache.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, zaptest.NewLogger(t))
}

func newTestEnvWithLogger(t *testing.T, logger *zap.Logger) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions:    newMemSessionRepo(),
		transcripts: newMemTranscriptRepo(),
		blobs:       newMemBlobStore(),
		cache:       cache.NewMemoryStore(),
	}
	t.Cleanup(func() { _ = env.cache.Close() })

	cfg := DefaultConfig()
	cfg.Retry = jobcontext.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	env.svc = NewService(env.sessions, env.transcripts, env.cache, env.blobs,
		echoTranscriber{},
		dictTranslator{"Bonjour": "Hello", "le": "the", "monde": "world"},
		cfg, logger)
	return env
}

func (env *testEnv) seedChunks(t *testing.T, sid uuid.UUID, pairs ...[2]string) {
	t.Helper()
	start := time.Now().Add(-time.Minute)
	for i, p := range pairs {
		c := entities.NewTranscriptChunk(sid, i, start.Add(time.Duration(i)*time.Second), start.Add(time.Duration(i+1)*time.Second), p[0], p[1])
		if err := env.transcripts.CreateChunk(context.Background(), c); err != nil {
			t.Fatalf("seed chunk %d: %v", i, err)
		}
	}
}
