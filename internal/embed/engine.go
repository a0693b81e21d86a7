// Package embed turns chunks into vectors: batching, pacing and retry around
// a single ai.Client.
package embed

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/VanshDeo/OpenQuest/internal/ai"
	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

const (
	// DefaultBatchSize caps how many chunks go into one provider request.
	DefaultBatchSize = 100
	// DefaultBatchPause spaces consecutive batches to stay under rate limits.
	DefaultBatchPause = 200 * time.Millisecond
	// DefaultMaxRetries bounds retry attempts per batch, on top of the first try.
	DefaultMaxRetries = 3
)

// Engine embeds chunk batches sequentially. Concurrency happens across jobs,
// not inside one embedding run.
type Engine struct {
	client     ai.Client
	batchSize  int
	pause      time.Duration
	maxRetries uint64
	onBatch    func(done, total int)
	// initialInterval seeds the retry backoff; tests shrink it.
	initialInterval time.Duration
}

// Option tunes an Engine.
type Option func(*Engine)

// WithBatchSize overrides the per-request chunk cap.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithPause overrides the inter-batch pause.
func WithPause(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.pause = d
		}
	}
}

// WithMaxRetries overrides the retry budget per batch.
func WithMaxRetries(n uint64) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithProgress installs a callback invoked after each batch with the
// number of chunks embedded so far and the run total.
func WithProgress(fn func(done, total int)) Option {
	return func(e *Engine) {
		e.onBatch = fn
	}
}

// NewEngine creates an embedding engine over the given client.
func NewEngine(client ai.Client, opts ...Option) *Engine {
	e := &Engine{
		client:          client,
		batchSize:       DefaultBatchSize,
		pause:           DefaultBatchPause,
		maxRetries:      DefaultMaxRetries,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the output of one embedding run.
type Result struct {
	// Embedded holds one vectorized chunk per input chunk, in input order.
	Embedded []models.EmbeddedChunk
	// Model is the embedding model tag the vectors were produced with.
	Model string
	// TokensEstimate approximates input size as total characters / 4.
	TokensEstimate int
	Duration       time.Duration
}

// EmbedChunks embeds every chunk or none: any batch failing after retries
// aborts the run and the partial output is discarded.
func (e *Engine) EmbedChunks(ctx context.Context, chunks []models.Chunk) (*Result, error) {
	start := time.Now()
	result := &Result{Model: e.client.EmbeddingModel()}
	if len(chunks) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = EmbeddingText(chunk)
		result.TokensEstimate += len(texts[i]) / 4
	}

	dim := e.client.Dim()
	embedded := make([]models.EmbeddedChunk, 0, len(chunks))
	for offset := 0; offset < len(chunks); offset += e.batchSize {
		end := offset + e.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		if offset > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, apperr.Wrap(apperr.Cancelled, ctx.Err(), "embedding run aborted")
			case <-time.After(e.pause):
			}
		}

		vectors, err := e.embedBatch(ctx, texts[offset:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			if len(vec) != dim {
				return nil, apperr.New(apperr.UpstreamUnavailable,
					"embedding dimension mismatch: expected %d, got %d", dim, len(vec))
			}
			embedded = append(embedded, models.EmbeddedChunk{Chunk: chunks[offset+i], Vector: vec})
		}

		log.Debug().
			Int("batch_start", offset).
			Int("batch_size", end-offset).
			Int("total", len(chunks)).
			Msg("embedded batch")
		if e.onBatch != nil {
			e.onBatch(end, len(chunks))
		}
	}

	result.Embedded = embedded
	result.Duration = time.Since(start)
	return result, nil
}

// embedBatch runs one provider call with exponential backoff. Only retryable
// failures (rate limits, upstream outages) are tried again.
func (e *Engine) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	var vectors [][]float32
	attempt := 0
	operation := func() error {
		attempt++
		out, err := e.client.EmbedBatch(ctx, texts, ai.TaskDocument)
		if err != nil {
			if apperr.IsRetryable(err) {
				log.Warn().Err(err).Int("attempt", attempt).Int("batch_size", len(texts)).
					Msg("embedding batch failed, will retry")
				return err
			}
			return backoff.Permanent(err)
		}
		if len(out) != len(texts) {
			return backoff.Permanent(apperr.New(apperr.UpstreamUnavailable,
				"embedding count mismatch: sent %d, got %d", len(texts), len(out)))
		}
		vectors = out
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, e.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbeddingText prefixes the chunk content with a grounding header so the
// model sees where the code lives, not just what it says.
func EmbeddingText(chunk models.Chunk) string {
	var b strings.Builder
	b.Grow(len(chunk.Content) + 96)
	b.WriteString("File: ")
	b.WriteString(chunk.FilePath)
	b.WriteString("\nLanguage: ")
	b.WriteString(chunk.Language)
	b.WriteString("\n")
	if chunk.SymbolName != "" {
		b.WriteString("Symbol: ")
		b.WriteString(chunk.SymbolName)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(chunk.Content)
	return b.String()
}
