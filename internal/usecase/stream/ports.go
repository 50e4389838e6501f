package stream

import (
	"context"
	"time"
)

// Transcriber converts one audio chunk into text in the given language
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Translator converts text from a source to a target language
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// ChunkSource yields audio chunks in arrival order. io.EOF or any other
// error ends the stream.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ChunkSourceFunc adapts a function to ChunkSource
type ChunkSourceFunc func(ctx context.Context) ([]byte, error)

// Next implements ChunkSource
func (f ChunkSourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Languages is the language pair of a session
type Languages struct {
	Source string
	Target string
}

// Result is the ordered output of both stages for one chunk
type Result struct {
	Index            int
	Chunk            []byte
	Transcription    string
	Translation      string
	ReceivedAt       time.Time
	CompletedAt      time.Time
	TranscriptionErr error
	TranslationErr   error
}

// EmitFunc receives results in chunk order. Returning an error stops the run.
type EmitFunc func(ctx context.Context, res Result) error
