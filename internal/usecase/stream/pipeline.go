package stream

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/echonote/echonote/errors"
)

// DefaultQueueCapacity bounds the transcribed-but-not-translated backlog
const DefaultQueueCapacity = 3

// Stats summarizes one pipeline run
type Stats struct {
	Chunks                int64
	TranscriptionFailures int64
	TranslationFallbacks  int64
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithQueueCapacity sets the capacity of the queue between the stages
func WithQueueCapacity(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// Pipeline runs transcription and translation as two concurrent stages
// joined by a bounded queue. Results are emitted in chunk order. A
// Pipeline serves a single run at a time.
type Pipeline struct {
	transcriber Transcriber
	translator  Translator
	logger      *zap.Logger
	capacity    int

	chunks          atomic.Int64
	transcribeFails atomic.Int64
	translateFalls  atomic.Int64
}

type transcribed struct {
	index      int
	chunk      []byte
	text       string
	err        error
	receivedAt time.Time
}

// NewPipeline creates a pipeline over the two transformation ports
func NewPipeline(transcriber Transcriber, translator Translator, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		transcriber: transcriber,
		translator:  translator,
		logger:      logger,
		capacity:    DefaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capacity returns the queue capacity
func (p *Pipeline) Capacity() int {
	return p.capacity
}

// Stats returns the counters of the current or last run
func (p *Pipeline) Stats() Stats {
	return Stats{
		Chunks:                p.chunks.Load(),
		TranscriptionFailures: p.transcribeFails.Load(),
		TranslationFallbacks:  p.translateFalls.Load(),
	}
}

// Run reads chunks from src until it ends, and emits one Result per chunk
// in arrival order. The producer (read + transcribe) runs in its own
// goroutine and blocks when the queue is full; the consumer (translate +
// emit) runs on the calling goroutine. Cancelling ctx ends the stream;
// chunks already queued are still translated and emitted.
func (p *Pipeline) Run(ctx context.Context, src ChunkSource, langs Languages, emit EmitFunc) error {
	p.chunks.Store(0)
	p.transcribeFails.Store(0)
	p.translateFalls.Store(0)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	queue := make(chan transcribed, p.capacity)

	g.Go(func() error {
		defer close(queue)
		return p.produce(gctx, src, langs, queue)
	})

	// queued chunks are translated even after ctx is cancelled
	translateCtx := context.WithoutCancel(ctx)

	var emitErr error
	for item := range queue {
		res := p.translate(translateCtx, item, langs)
		if err := emit(ctx, res); err != nil {
			emitErr = fmt.Errorf("emit chunk %d: %w", item.index, err)
			cancel()
			break
		}
	}

	// discard what the producer still pushes after a failed emit
	for range queue {
	}

	if err := g.Wait(); err != nil && emitErr == nil {
		return err
	}
	return emitErr
}

func (p *Pipeline) produce(ctx context.Context, src ChunkSource, langs Languages, queue chan<- transcribed) error {
	for index := 0; ; index++ {
		chunk, err := src.Next(ctx)
		if err != nil {
			if !stdErrors.Is(err, io.EOF) && ctx.Err() == nil {
				p.logger.Info("audio source closed", zap.Int("chunks", index), zap.Error(err))
			}
			return nil
		}
		receivedAt := time.Now()

		text, terr := p.transcriber.Transcribe(ctx, chunk, langs.Source)
		if terr != nil {
			p.transcribeFails.Add(1)
			p.logger.Warn("transcription failed, keeping chunk with empty text",
				zap.Int("chunk_index", index),
				zap.Error(terr),
			)
			text = ""
		}

		item := transcribed{
			index:      index,
			chunk:      chunk,
			text:       strings.TrimSpace(text),
			err:        wrapTranscription(terr),
			receivedAt: receivedAt,
		}

		select {
		case queue <- item:
			p.chunks.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pipeline) translate(ctx context.Context, item transcribed, langs Languages) Result {
	res := Result{
		Index:            item.index,
		Chunk:            item.chunk,
		Transcription:    item.text,
		Translation:      item.text,
		ReceivedAt:       item.receivedAt,
		TranscriptionErr: item.err,
	}

	if item.text != "" && !strings.EqualFold(langs.Source, langs.Target) {
		translated, err := p.translator.Translate(ctx, item.text, langs.Source, langs.Target)
		translated = strings.TrimSpace(translated)
		switch {
		case err != nil:
			res.TranslationErr = errors.ErrTranslationFailed(err)
			p.translateFalls.Add(1)
			p.logger.Warn("translation failed, falling back to original text",
				zap.Int("chunk_index", item.index),
				zap.Error(err),
			)
		case translated == "":
			p.translateFalls.Add(1)
		default:
			res.Translation = translated
		}
	}

	res.CompletedAt = time.Now()
	return res
}

func wrapTranscription(err error) error {
	if err == nil {
		return nil
	}
	return errors.ErrTranscriptionFailed(err)
}
