// Package api exposes the engine over HTTP: job submission and status,
// the synchronous answer endpoint, the SSE pipeline stream, and the
// operational endpoints. Handlers translate error kinds to status codes
// and always answer JSON except on the event stream.
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/fetch"
	"github.com/VanshDeo/OpenQuest/internal/jobs"
	"github.com/VanshDeo/OpenQuest/internal/pipeline"
	"github.com/VanshDeo/OpenQuest/internal/search"
	"github.com/VanshDeo/OpenQuest/internal/store"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// Request deadlines per endpoint class. The pipeline stream carries no
// deadline; it lives until the run ends or the client goes away.
const (
	healthTimeout = 2 * time.Second
	adminTimeout  = 5 * time.Second
	indexTimeout  = 10 * time.Second
	queryTimeout  = 120 * time.Second
)

// Pinger is the health probe the store satisfies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies. AnswerModel is reported in
// query metadata. Defaults seeds the retrieval options a request does
// not set itself; its zero value defers to the search package.
type Server struct {
	Queue       jobs.Queue
	Store       store.ChunkStore
	Pipeline    *pipeline.Pipeline
	Health      Pinger
	AnswerModel string
	Defaults    search.Options
}

func NewServer(queue jobs.Queue, st store.ChunkStore, pl *pipeline.Pipeline, health Pinger, answerModel string) *Server {
	return &Server{
		Queue:       queue,
		Store:       st,
		Pipeline:    pl,
		Health:      health,
		AnswerModel: answerModel,
	}
}

// Handler builds the route table wrapped in the request-logging chain.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/repositories", s.handleRepositories)
	mux.HandleFunc("/index", s.handleIndex)
	mux.HandleFunc("/index/status/", s.handleIndexStatus)
	mux.HandleFunc("/rag/query", s.handleQuery)
	mux.HandleFunc("/rag/pipeline", s.handlePipeline)

	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusTooManyRequests {
		if wait := apperr.RetryAfterOf(err); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}
	hlog.FromRequest(r).Warn().Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, r, status, errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err))})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Kind: string(apperr.BadInput)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if s.Health != nil {
		if err := s.Health.Ping(ctx); err != nil {
			writeError(w, r, apperr.Wrap(apperr.UpstreamUnavailable, err, "database unreachable"))
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	repos, err := s.Store.ListRepos(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if repos == nil {
		repos = []models.RepoIndex{}
	}
	writeJSON(w, r, http.StatusOK, repos)
}

type indexRequest struct {
	GithubURL string `json:"githubUrl"`
}

type indexResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Wrap(apperr.BadInput, err, "decode request"))
		return
	}
	if strings.TrimSpace(req.GithubURL) == "" {
		writeError(w, r, apperr.New(apperr.BadInput, "githubUrl is required"))
		return
	}
	owner, name, err := fetch.ParseRepoURL(req.GithubURL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), indexTimeout)
	defer cancel()

	// The repo record exists from the first request on, so the status
	// surface can report pending before a worker picks the job up.
	repoID := fetch.RepoID(owner, name)
	if err := s.Store.EnsureRepo(ctx, repoID); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.Queue.Enqueue(ctx, req.GithubURL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("job_id", id).Str("repo_id", repoID).Msg("index requested")
	writeJSON(w, r, http.StatusAccepted, indexResponse{JobID: id})
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/index/status/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, apperr.New(apperr.BadInput, "job id required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	job, err := s.Queue.StatusOf(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

type ragRequest struct {
	RepoID       string   `json:"repoId"`
	Query        string   `json:"query"`
	TopK         int      `json:"topK"`
	PathPrefixes []string `json:"pathPrefixes,omitempty"`
}

func decodeRAGRequest(r *http.Request) (ragRequest, error) {
	var req ragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ragRequest{}, apperr.Wrap(apperr.BadInput, err, "decode request")
	}
	if strings.TrimSpace(req.RepoID) == "" {
		return ragRequest{}, apperr.New(apperr.BadInput, "repoId is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return ragRequest{}, apperr.New(apperr.BadInput, "query is required")
	}
	return req, nil
}

func (s *Server) options(req ragRequest) search.Options {
	opt := s.Defaults
	opt.RepoID = req.RepoID
	if req.TopK > 0 {
		opt.TopK = req.TopK
	}
	if len(req.PathPrefixes) > 0 {
		opt.FileFilter = req.PathPrefixes
	}
	return opt
}

type queryMeta struct {
	Model           string `json:"model"`
	TotalCandidates int    `json:"totalCandidates"`
	TokenEstimate   int    `json:"tokenEstimate"`
	EmbedMS         int64  `json:"embedMs"`
	SearchMS        int64  `json:"searchMs"`
	RankMS          int64  `json:"rankMs"`
	GenerateMS      int64  `json:"generateMs"`
}

type queryResponse struct {
	Answer    string                  `json:"answer"`
	Citations []models.Citation       `json:"citations"`
	Chunks    []models.RetrievedChunk `json:"chunks"`
	Meta      queryMeta               `json:"meta"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	req, err := decodeRAGRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	start := time.Now()
	out, err := s.Pipeline.Run(ctx, req.Query, s.options(req), pipeline.NopSink{})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := queryResponse{
		Answer:    out.Answer,
		Citations: out.Citations,
		Chunks:    out.Chunks,
		Meta: queryMeta{
			Model:         s.AnswerModel,
			TokenEstimate: out.TokenEstimate,
			GenerateMS:    out.GenDuration.Milliseconds(),
		},
	}
	if resp.Citations == nil {
		resp.Citations = []models.Citation{}
	}
	if resp.Chunks == nil {
		resp.Chunks = []models.RetrievedChunk{}
	}
	if out.Retrieval != nil {
		resp.Meta.TotalCandidates = out.Retrieval.TotalCandidates
		resp.Meta.EmbedMS = out.Retrieval.EmbedDuration.Milliseconds()
		resp.Meta.SearchMS = out.Retrieval.SearchDuration.Milliseconds()
		resp.Meta.RankMS = out.Retrieval.RankDuration.Milliseconds()
	}

	hlog.FromRequest(r).Info().
		Str("repo_id", req.RepoID).
		Int("chunks", len(resp.Chunks)).
		Dur("dur", time.Since(start)).
		Msg("query served")
	writeJSON(w, r, http.StatusOK, resp)
}
