package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestService_WaitWithoutSessions(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.svc.Wait(ctx); err != nil {
		t.Fatalf("expected immediate return, got %v", err)
	}
}

func TestService_WaitTimesOutWhileSessionOpen(t *testing.T) {
	env := newTestEnv(t)
	openSession(t, env, uuid.New())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := env.svc.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestService_WaitReturnsAfterFinalize(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.uploadDelay = 50 * time.Millisecond
	ctx := context.Background()
	ls := openSession(t, env, uuid.New())
	if err := ls.Stream(ctx, wordSource("Bonjour", "le"), nil); err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = ls.Close(ctx)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.svc.Wait(waitCtx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	sess, _ := env.sessions.FindByID(ctx, ls.ID())
	if !sess.IsClosed() {
		t.Fatal("expected session ended before Wait returned")
	}
	final, err := env.transcripts.FindFinal(ctx, ls.ID())
	if err != nil || final.OriginalText != "Bonjour le" {
		t.Fatalf("expected merged final before Wait returned, got %+v, %v", final, err)
	}
}

func TestService_CloseWaitsForSlowPersistence(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.uploadDelay = 100 * time.Millisecond
	env.transcripts.createDelay = 20 * time.Millisecond
	ctx := context.Background()
	ls := openSession(t, env, uuid.New())

	if err := ls.Stream(ctx, wordSource("Bonjour", "le", "monde"), nil); err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	summary, err := ls.Close(ctx)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if summary.Status != StatusCompleted || summary.ChunkCount != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	final, err := env.transcripts.FindFinal(ctx, ls.ID())
	if err != nil {
		t.Fatalf("final transcript missing: %v", err)
	}
	if final.OriginalText != "Bonjour le monde" || final.TranslatedText != "Hello the world" {
		t.Fatalf("merge ran before persistence finished: %q / %q", final.OriginalText, final.TranslatedText)
	}
	if chunks, _ := env.transcripts.count(ls.ID()); chunks != 0 {
		t.Fatalf("expected no chunk rows after merge, %d left", chunks)
	}
	merged, err := env.blobs.Download(ctx, MergedBlobPath(ls.ID(), "flac"))
	if err != nil || string(merged) != "Bonjourlemonde" {
		t.Fatalf("unexpected merged audio %q, %v", merged, err)
	}
}

func TestService_FailedMergeIsRetriedOnNextClose(t *testing.T) {
	env := newTestEnv(t)
	env.transcripts.failFinalize = []error{errors.New("validation failed: constraint")}
	ctx := context.Background()
	ls := openSession(t, env, uuid.New())
	if err := ls.Stream(ctx, wordSource("Bonjour", "le", "monde"), nil); err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	first, err := ls.Close(ctx)
	if err != nil {
		t.Fatalf("first close: %v", err)
	}
	if first.Status != StatusPartial {
		t.Fatalf("expected partial status, got %+v", first)
	}
	if st, _ := first.Step(StepTranscriptMerge); st.Status != StepError {
		t.Fatalf("expected transcript merge error, got %+v", st)
	}
	if sess, _ := env.sessions.FindByID(ctx, ls.ID()); sess.IsClosed() {
		t.Fatal("session must stay open after a failed transcript merge")
	}

	second, err := env.svc.Close(ctx, ls.ID())
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Fatalf("expected retry to complete, got %+v", second)
	}
	if st, _ := second.Step(StepTranscriptMerge); st.Status != StepOK {
		t.Fatalf("expected transcript merge ok on retry, got %+v", st)
	}
	final, err := env.transcripts.FindFinal(ctx, ls.ID())
	if err != nil || final.OriginalText != "Bonjour le monde" {
		t.Fatalf("expected final after retry, got %+v, %v", final, err)
	}
	if chunks, _ := env.transcripts.count(ls.ID()); chunks != 0 {
		t.Fatalf("expected chunks compacted on retry, %d left", chunks)
	}
	if sess, _ := env.sessions.FindByID(ctx, ls.ID()); !sess.IsClosed() {
		t.Fatal("expected ended_at after successful retry")
	}
}

func TestService_ClosedSessionWithLeftoverChunksIsMerged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ls := openSession(t, env, uuid.New())
	if err := env.sessions.MarkEnded(ctx, ls.ID(), time.Now().UTC()); err != nil {
		t.Fatalf("mark ended: %v", err)
	}
	env.seedChunks(t, ls.ID(), [2]string{"Bonjour", "Hello"}, [2]string{"monde", "world"})

	summary, err := env.svc.Close(ctx, ls.ID())
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if summary.Status != StatusCompleted {
		t.Fatalf("unexpected summary %+v", summary)
	}
	final, err := env.transcripts.FindFinal(ctx, ls.ID())
	if err != nil || final.TranslatedText != "Hello world" {
		t.Fatalf("expected leftover chunks merged, got %+v, %v", final, err)
	}
}

func TestService_ClosedSummaryWithoutFinalWarns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ls := openSession(t, env, uuid.New())
	if _, err := ls.Close(ctx); err != nil {
		t.Fatalf("first close: %v", err)
	}

	summary, err := env.svc.Close(ctx, ls.ID())
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if st, _ := summary.Step(StepTranscriptMerge); st.Status != StepWarning {
		t.Fatalf("expected transcript warning for a session without text, got %+v", st)
	}
	if st, _ := summary.Step(StepSessionEnd); st.Status != StepOK {
		t.Fatalf("expected session end ok, got %+v", st)
	}
}

func TestService_JobLogsCarryJobMetadata(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := newTestEnvWithLogger(t, zap.New(core))
	env.transcripts.failCreate = []error{errors.New("validation failed: bad row")}
	env.transcripts.failFinalize = []error{errors.New("validation failed: constraint")}
	ctx := context.Background()
	ls := openSession(t, env, uuid.New())

	_ = ls.Stream(ctx, wordSource("Bonjour", "le"), nil)
	if _, err := ls.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	cases := []struct {
		message      string
		jobType      string
		chunkIndexes []int64
	}{
		{"failed to persist chunk", "persist_chunk", []int64{0, 1}},
		{"transcript merge failed", "finalize", []int64{-1}},
	}
	for _, tc := range cases {
		entries := logs.FilterMessage(tc.message).All()
		if len(entries) != 1 {
			t.Fatalf("expected one %q entry, got %d", tc.message, len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["job_type"] != tc.jobType {
			t.Errorf("%q: expected job_type %s, got %v", tc.message, tc.jobType, fields["job_type"])
		}
		idx, _ := fields["chunk_index"].(int64)
		found := false
		for _, want := range tc.chunkIndexes {
			found = found || idx == want
		}
		if !found {
			t.Errorf("%q: expected chunk_index in %v, got %v", tc.message, tc.chunkIndexes, fields["chunk_index"])
		}
		if fields["session_id"] != ls.ID().String() {
			t.Errorf("%q: expected session_id %s, got %v", tc.message, ls.ID(), fields["session_id"])
		}
		if _, ok := fields["elapsed"]; !ok {
			t.Errorf("%q: expected elapsed field", tc.message)
		}
	}
}
