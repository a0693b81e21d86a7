// Package pipeline drives one question through retrieval, context
// assembly and generation, emitting a progress event per stage plus a
// token event per streamed fragment. Transports decide how events reach
// the client; the synchronous query endpoint runs the same pipeline
// with a discarding sink.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VanshDeo/OpenQuest/internal/ai"
	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/prompt"
	"github.com/VanshDeo/OpenQuest/internal/search"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// Event names, in emission order for a successful run. Token events
// repeat between the context and generation stages.
const (
	EventEmbedding  = "stage:embedding"
	EventRetrieval  = "stage:retrieval"
	EventRanking    = "stage:ranking"
	EventContext    = "stage:context"
	EventToken      = "token"
	EventGeneration = "stage:generation"
	EventError      = "error"
)

const statusDone = "done"

// Sink receives pipeline events in emission order. A Send error aborts
// the run; no further events follow.
type Sink interface {
	Send(event string, payload any) error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Send(string, any) error { return nil }

// EmbeddingPayload reports the query-embedding stage.
type EmbeddingPayload struct {
	Status     string `json:"status"`
	DurationMS int64  `json:"durationMs"`
}

// RetrievalPayload reports the vector-search stage.
type RetrievalPayload struct {
	Status          string `json:"status"`
	DurationMS      int64  `json:"durationMs"`
	TotalCandidates int    `json:"totalCandidates"`
}

// RankedChunk is the spans-only view of a reranked chunk, small enough
// to put on the wire before generation starts.
type RankedChunk struct {
	FilePath   string  `json:"filePath"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	SymbolName string  `json:"symbolName,omitempty"`
	Score      float64 `json:"score"`
}

// RankingPayload reports the rerank stage with the surviving chunks.
type RankingPayload struct {
	Status     string        `json:"status"`
	DurationMS int64         `json:"durationMs"`
	Chunks     []RankedChunk `json:"chunks"`
}

// ContextPayload reports the prompt-assembly stage.
type ContextPayload struct {
	Status        string `json:"status"`
	DurationMS    int64  `json:"durationMs"`
	TokenEstimate int    `json:"tokenEstimate"`
	Citations     int    `json:"citations"`
}

// TokenPayload carries one streamed answer fragment.
type TokenPayload struct {
	Text string `json:"text"`
}

// GenerationPayload closes a successful run with the full answer.
type GenerationPayload struct {
	Status     string `json:"status"`
	DurationMS int64  `json:"durationMs"`
	Answer     string `json:"answer"`
}

// ErrorPayload is the single terminal event of a failed run.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Retriever is the slice of the search service the pipeline needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opt search.Options) (*search.Result, error)
}

// Outcome summarizes a completed run for callers that want the final
// answer besides the event stream.
type Outcome struct {
	Answer        string
	Citations     []models.Citation
	Chunks        []models.RetrievedChunk
	Retrieval     *search.Result
	TokenEstimate int
	GenDuration   time.Duration
}

type Pipeline struct {
	retriever Retriever
	client    ai.Client
	assembler *prompt.Assembler
}

// New wires a pipeline over the retriever, the answer model client and
// the prompt assembler.
func New(retriever Retriever, client ai.Client, assembler *prompt.Assembler) *Pipeline {
	return &Pipeline{
		retriever: retriever,
		client:    client,
		assembler: assembler,
	}
}

// Run executes the full pipeline for one question. Every stage emits a
// done event; any failure emits a single terminal error event and
// nothing after it. When retrieval comes back empty the stages still
// emit and generation short-circuits to a canned answer without calling
// the model.
func (p *Pipeline) Run(ctx context.Context, query string, opt search.Options, sink Sink) (*Outcome, error) {
	res, err := p.retriever.Retrieve(ctx, query, opt)
	if err != nil {
		return nil, p.fail(sink, err)
	}

	if err := sink.Send(EventEmbedding, EmbeddingPayload{
		Status:     statusDone,
		DurationMS: res.EmbedDuration.Milliseconds(),
	}); err != nil {
		return nil, err
	}
	if err := sink.Send(EventRetrieval, RetrievalPayload{
		Status:          statusDone,
		DurationMS:      res.SearchDuration.Milliseconds(),
		TotalCandidates: res.TotalCandidates,
	}); err != nil {
		return nil, err
	}

	ranked := make([]RankedChunk, len(res.Chunks))
	for i, c := range res.Chunks {
		ranked[i] = RankedChunk{
			FilePath:   c.FilePath,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			SymbolName: c.SymbolName,
			Score:      c.Score,
		}
	}
	if err := sink.Send(EventRanking, RankingPayload{
		Status:     statusDone,
		DurationMS: res.RankDuration.Milliseconds(),
		Chunks:     ranked,
	}); err != nil {
		return nil, err
	}

	asmStart := time.Now()
	asm := p.assembler.Assemble(query, opt.RepoID, res.Chunks)
	if err := sink.Send(EventContext, ContextPayload{
		Status:        statusDone,
		DurationMS:    time.Since(asmStart).Milliseconds(),
		TokenEstimate: asm.TokenEstimate,
		Citations:     len(asm.Citations),
	}); err != nil {
		return nil, err
	}

	genStart := time.Now()
	var answer string
	if len(res.Chunks) == 0 {
		answer = prompt.NoContextAnswer
		if err := sink.Send(EventToken, TokenPayload{Text: answer}); err != nil {
			return nil, err
		}
	} else {
		answer, err = p.streamAnswer(ctx, asm, sink)
		if err != nil {
			return nil, err
		}
	}
	genDur := time.Since(genStart)

	if err := sink.Send(EventGeneration, GenerationPayload{
		Status:     statusDone,
		DurationMS: genDur.Milliseconds(),
		Answer:     answer,
	}); err != nil {
		return nil, err
	}

	log.Info().
		Str("repo_id", opt.RepoID).
		Int("chunks", len(res.Chunks)).
		Int("candidates", res.TotalCandidates).
		Dur("generation", genDur).
		Msg("pipeline run complete")

	return &Outcome{
		Answer:        answer,
		Citations:     asm.Citations,
		Chunks:        res.Chunks,
		Retrieval:     res,
		TokenEstimate: asm.TokenEstimate,
		GenDuration:   genDur,
	}, nil
}

// streamAnswer forwards model fragments to the sink as token events. A
// sink failure cancels the model stream; the sink error wins over the
// resulting cancellation error.
func (p *Pipeline) streamAnswer(ctx context.Context, asm prompt.Assembly, sink Sink) (string, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sinkErr error
	answer, err := p.client.StreamAnswer(genCtx, asm.SystemPrompt, asm.UserPrompt, func(text string) {
		if sinkErr != nil {
			return
		}
		if serr := sink.Send(EventToken, TokenPayload{Text: text}); serr != nil {
			sinkErr = serr
			cancel()
		}
	})
	if sinkErr != nil {
		return "", sinkErr
	}
	if err != nil {
		return "", p.fail(sink, err)
	}
	return answer, nil
}

// fail emits the terminal error event and hands the original error back
// to the caller. Delivery failures are logged, not returned.
func (p *Pipeline) fail(sink Sink, err error) error {
	payload := ErrorPayload{
		Kind:    string(apperr.KindOf(err)),
		Message: err.Error(),
	}
	if serr := sink.Send(EventError, payload); serr != nil {
		log.Warn().Err(serr).Msg("pipeline error event not delivered")
	}
	return err
}
