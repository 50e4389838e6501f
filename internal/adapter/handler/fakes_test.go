package handler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/echonote/echonote/internal/domain/entities"
	"github.com/echonote/echonote/internal/infrastructure/cache"
	"github.com/echonote/echonote/internal/infrastructure/connection"
	"github.com/echonote/echonote/internal/infrastructure/http/middleware"
	sessionUsecase "github.com/echonote/echonote/internal/usecase/session"
	"github.com/echonote/echonote/pkg/jobcontext"
	"github.com/echonote/echonote/pkg/jwt"
	pkgvalidator "github.com/echonote/echonote/pkg/validator"
)

type fakeSessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]entities.Session
}

func (r *fakeSessions) Create(ctx context.Context, s *entities.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = *s
	return nil
}

func (r *fakeSessions) FindByID(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, entities.ErrSessionNotFound
	}
	return &s, nil
}

func (r *fakeSessions) FindRecentByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*entities.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Session
	for _, s := range r.rows {
		if s.UserID == userID {
			s := s
			out = append(out, &s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSessions) MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
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

func (r *fakeSessions) only() (entities.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		return s, true
	}
	return entities.Session{}, false
}

type fakeTranscripts struct {
	mu   sync.Mutex
	rows []entities.Transcript
}

func (r *fakeTranscripts) CreateChunk(ctx context.Context, t *entities.Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SessionID == t.SessionID && row.ChunkIndex == t.ChunkIndex {
			return entities.ErrTranscriptExists
		}
	}
	r.rows = append(r.rows, *t)
	return nil
}

func (r *fakeTranscripts) FindChunks(ctx context.Context, sid uuid.UUID) ([]*entities.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Transcript
	for _, row := range r.rows {
		if row.SessionID == sid && !row.IsFinal() {
			row := row
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *fakeTranscripts) FindFinal(ctx context.Context, sid uuid.UUID) (*entities.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SessionID == sid && row.IsFinal() {
			return &row, nil
		}
	}
	return nil, entities.ErrTranscriptNotFound
}

func (r *fakeTranscripts) FinalizeChunks(ctx context.Context, final *entities.Transcript) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SessionID == final.SessionID && row.IsFinal() {
			return 0, entities.ErrTranscriptExists
		}
	}
	kept := make([]entities.Transcript, 0, len(r.rows))
	var deleted int64
	for _, row := range r.rows {
		if row.SessionID == final.SessionID {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = append(kept, *final)
	return deleted, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *fakeBlobs) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for p := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *fakeBlobs) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
	return nil
}

func (b *fakeBlobs) Download(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.objects[path]
	if !ok {
		return nil, entities.ErrBlobNotFound
	}
	return d, nil
}

func (b *fakeBlobs) Delete(ctx context.Context, paths ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		delete(b.objects, p)
	}
	return nil
}

func (b *fakeBlobs) PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	return "https://blobs.test/" + path, nil
}

// textTranscriber returns the audio bytes as text
type textTranscriber struct{}

func (textTranscriber) Transcribe(ctx context.Context, audio []byte, lang string) (string, error) {
	return string(audio), nil
}

type prefixTranslator struct{}

func (prefixTranslator) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	return tgt + ":" + text, nil
}

type testServer struct {
	echo     *echo.Echo
	service  *sessionUsecase.Service
	sessions *fakeSessions
	blobs    *fakeBlobs
	registry *connection.Registry
	jwt      *jwt.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	ts := &testServer{
		sessions: &fakeSessions{rows: make(map[uuid.UUID]entities.Session)},
		blobs:    &fakeBlobs{objects: make(map[string][]byte)},
		registry: connection.NewRegistry(logger),
		jwt:      jwt.NewManager("test-secret", time.Minute, ""),
	}

	cfg := sessionUsecase.DefaultConfig()
	cfg.Retry = jobcontext.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	ts.service = sessionUsecase.NewService(ts.sessions, &fakeTranscripts{}, store, ts.blobs,
		textTranscriber{}, prefixTranslator{}, cfg, logger)

	e := echo.New()
	e.Validator = pkgvalidator.New()
	NewRouter(nil,
		NewSessionHandler(ts.service, logger),
		NewStreamHandler(ts.service, ts.registry, nil, logger),
		ts.registry,
		middleware.EchoAuth(ts.jwt),
	).Setup(e)
	ts.echo = e
	return ts
}

func (ts *testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := ts.jwt.GenerateAccessToken(userID, "")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}
