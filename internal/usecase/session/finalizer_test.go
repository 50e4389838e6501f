package session

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/echonote/echonote/errors"
	"github.com/echonote/echonote/internal/domain/entities"
)

func TestMergeTranscript_JoinsAndCompacts(t *testing.T) {
	env := newTestEnv(t)
	sid := uuid.New()
	env.seedChunks(t, sid, [2]string{"Bonjour", "Hello"}, [2]string{"le", "the"}, [2]string{"monde", "world"})

	res, err := env.svc.Finalizer().MergeTranscript(context.Background(), sid)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if res.Final.OriginalText != "Bonjour le monde" || res.Final.TranslatedText != "Hello the world" {
		t.Fatalf("unexpected final %q / %q", res.Final.OriginalText, res.Final.TranslatedText)
	}
	if !res.Final.IsFinal() || res.Chunks != 3 {
		t.Fatalf("unexpected merge result %+v", res)
	}

	chunks, finals := env.transcripts.count(sid)
	if chunks != 0 || finals != 1 {
		t.Fatalf("expected only the final record, got %d chunks %d finals", chunks, finals)
	}
}

func TestMergeTranscript_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Finalizer().MergeTranscript(context.Background(), uuid.New())
	if apperrors.CodeOf(err) != apperrors.ErrorCode_TRANSCRIPT_NOT_FOUND {
		t.Fatalf("expected TRANSCRIPT_NOT_FOUND, got %v", err)
	}
	if !apperrors.IsNotFound(err) {
		t.Fatal("expected a not-found error")
	}
}

func TestMergeTranscript_SecondCallReturnsStoredFinal(t *testing.T) {
	env := newTestEnv(t)
	sid := uuid.New()
	env.seedChunks(t, sid, [2]string{"a", "A"})
	f := env.svc.Finalizer()

	first, err := f.MergeTranscript(context.Background(), sid)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, err := f.MergeTranscript(context.Background(), sid)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if !second.AlreadyFinal || second.Final.ID != first.Final.ID {
		t.Fatalf("expected stored final, got %+v", second)
	}
}

func TestJoinChunks_TrimsEdges(t *testing.T) {
	chunks := []*entities.Transcript{
		{OriginalText: "", TranslatedText: ""},
		{OriginalText: "Bonjour", TranslatedText: "Hello"},
		{OriginalText: "", TranslatedText: ""},
	}
	orig, trans := JoinChunks(chunks)
	if orig != "Bonjour" || trans != "Hello" {
		t.Fatalf("unexpected join %q %q", orig, trans)
	}
}

func TestSortChunkPaths(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr error
	}{
		{
			name: "numeric",
			in:   []string{"s/2.flac", "s/merged.flac", "s/0.flac", "s/10.flac", "s/1.flac", "s/9.flac"},
			want: []string{"s/0.flac", "s/1.flac", "s/2.flac", "s/9.flac", "s/10.flac"},
		},
		{
			name: "numeric without extension",
			in:   []string{"s/1", "s/0"},
			want: []string{"s/0", "s/1"},
		},
		{
			name: "lexical",
			in:   []string{"s/b.flac", "s/a.flac", "s/c.flac"},
			want: []string{"s/a.flac", "s/b.flac", "s/c.flac"},
		},
		{
			name:    "mixed",
			in:      []string{"s/0.flac", "s/intro.flac"},
			wantErr: entities.ErrMixedChunkNaming,
		},
		{
			name: "only merged",
			in:   []string{"s/merged.flac"},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SortChunkPaths(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMergeAudio_OrdersAndCleansUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := uuid.New()

	// uploaded out of order; the fake lists in reverse order
	for _, idx := range []int{2, 0, 1} {
		_ = env.blobs.Upload(ctx, ChunkBlobPath(sid, idx, "flac"), []byte{byte('0' + idx)}, "audio/flac")
	}

	res, err := env.svc.Finalizer().MergeAudio(ctx, sid)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if res.Parts != 3 {
		t.Fatalf("expected 3 parts, got %d", res.Parts)
	}

	merged, err := env.blobs.Download(ctx, MergedBlobPath(sid, "flac"))
	if err != nil {
		t.Fatalf("merged blob missing: %v", err)
	}
	if string(merged) != "012" {
		t.Fatalf("expected chunks in order 0,1,2, got %q", merged)
	}
	for idx := 0; idx < 3; idx++ {
		if env.blobs.has(ChunkBlobPath(sid, idx, "flac")) {
			t.Fatalf("chunk %d should be removed after merge", idx)
		}
	}
}

func TestMergeAudio_NoChunks(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Finalizer().MergeAudio(context.Background(), uuid.New())
	if !errors.Is(err, entities.ErrNoAudioChunks) {
		t.Fatalf("expected ErrNoAudioChunks, got %v", err)
	}
}

func TestMergeAudio_MixedNamingRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := uuid.New()
	_ = env.blobs.Upload(ctx, SessionPrefix(sid)+"0.flac", []byte("a"), "audio/flac")
	_ = env.blobs.Upload(ctx, SessionPrefix(sid)+"intro.flac", []byte("b"), "audio/flac")

	_, err := env.svc.Finalizer().MergeAudio(ctx, sid)
	if apperrors.CodeOf(err) != apperrors.ErrorCode_MERGE_FAILED || !errors.Is(err, entities.ErrMixedChunkNaming) {
		t.Fatalf("expected MERGE_FAILED wrapping ErrMixedChunkNaming, got %v", err)
	}
	if !env.blobs.has(SessionPrefix(sid) + "0.flac") {
		t.Fatal("chunks must be kept when the merge is rejected")
	}
}

func TestNewFinalizer_Defaults(t *testing.T) {
	f := NewFinalizer(newMemTranscriptRepo(), newMemBlobStore(), nil, "", zaptest.NewLogger(t))
	if f.ext != "flac" {
		t.Fatalf("expected flac default, got %s", f.ext)
	}
	if _, ok := f.joiner.(ConcatJoiner); !ok {
		t.Fatalf("expected ConcatJoiner default, got %T", f.joiner)
	}
}
