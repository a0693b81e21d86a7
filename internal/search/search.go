package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/VanshDeo/OpenQuest/internal/ai"
	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/store"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// Retrieval defaults. A zero value in Options falls back to these.
const (
	DefaultTopK                = 8
	DefaultCandidateMultiplier = 3
	DefaultMinScore            = 0.3
	DefaultCacheSize           = 512
)

// Options narrows one retrieval request.
type Options struct {
	RepoID              string
	TopK                int
	CandidateMultiplier int
	MinScore            float64
	FileFilter          []string // optional path prefixes
}

// Result is one retrieval round: the reranked top chunks plus the size of
// the candidate pool they were picked from. The stage durations add up
// to roughly Duration and feed per-stage reporting.
type Result struct {
	Chunks          []models.RetrievedChunk
	TotalCandidates int
	EmbedDuration   time.Duration
	SearchDuration  time.Duration
	RankDuration    time.Duration
	Duration        time.Duration
}

type Service struct {
	Client ai.Client
	Store  store.ChunkStore

	cache *lru.Cache[string, []float32]
}

// NewService creates a new search service with the provided AI client and
// store. cacheSize bounds the query-embedding cache; values below 1 fall
// back to DefaultCacheSize.
func NewService(client ai.Client, st store.ChunkStore, cacheSize int) *Service {
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize) // size is positive here
	return &Service{
		Client: client,
		Store:  st,
		cache:  cache,
	}
}

// Retrieve embeds the query, runs the vector search scoped to one
// repository and reranks the candidate pool down to the top chunks.
// Reads never mix embedding spaces: a repository indexed with a model
// other than the configured one is reported as a conflict, not searched.
func (s *Service) Retrieve(ctx context.Context, query string, opt Options) (*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.New(apperr.BadInput, "query must not be empty")
	}
	if opt.RepoID == "" {
		return nil, apperr.New(apperr.BadInput, "repoId must not be empty")
	}

	topK := opt.TopK
	if topK < 1 {
		topK = DefaultTopK
	}
	multiplier := opt.CandidateMultiplier
	if multiplier < 1 {
		multiplier = DefaultCandidateMultiplier
	}
	minScore := opt.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	rec, ok, err := s.Store.GetRepoIndex(ctx, opt.RepoID)
	if err != nil {
		return nil, err
	}
	if !ok || rec.EmbeddingModel == "" {
		return nil, apperr.New(apperr.NotFound, "repository %s is not indexed", opt.RepoID)
	}
	if rec.EmbeddingModel != s.Client.EmbeddingModel() {
		return nil, apperr.New(apperr.SchemaMismatch,
			"repository %s is indexed with model %s, configured model is %s",
			opt.RepoID, rec.EmbeddingModel, s.Client.EmbeddingModel())
	}

	embedStart := time.Now()
	vec, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	embedDur := time.Since(embedStart)

	searchStart := time.Now()
	candidates, err := s.Store.Search(ctx, vec, store.SearchOpts{
		RepoID:       opt.RepoID,
		MinScore:     minScore,
		Limit:        topK * multiplier,
		PathPrefixes: opt.FileFilter,
	})
	if err != nil {
		return nil, err
	}
	searchDur := time.Since(searchStart)

	rankStart := time.Now()
	ranked := Rerank(candidates)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	rankDur := time.Since(rankStart)

	res := &Result{
		Chunks:          ranked,
		TotalCandidates: len(candidates),
		EmbedDuration:   embedDur,
		SearchDuration:  searchDur,
		RankDuration:    rankDur,
		Duration:        time.Since(start),
	}
	log.Debug().
		Str("repo_id", opt.RepoID).
		Int("candidates", res.TotalCandidates).
		Int("returned", len(res.Chunks)).
		Dur("duration", res.Duration).
		Msg("retrieval complete")
	return res, nil
}

// queryVector embeds the query with the retrieval-query task type, going
// through the LRU cache. Cache keys include the model tag so a model
// switch never serves vectors from another embedding space.
func (s *Service) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := cacheKey(s.Client.EmbeddingModel(), query)
	if vec, ok := s.cache.Get(key); ok {
		return vec, nil
	}

	vecs, err := s.Client.EmbedBatch(ctx, []string{query}, ai.TaskQuery)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, apperr.New(apperr.UpstreamUnavailable,
			"expected 1 query embedding, got %d", len(vecs))
	}

	s.cache.Add(key, vecs[0])
	return vecs[0], nil
}

func cacheKey(model, query string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + query))
	return hex.EncodeToString(sum[:])
}
