package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VanshDeo/OpenQuest/internal/ai"
	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/internal/chunk"
	"github.com/VanshDeo/OpenQuest/internal/embed"
	"github.com/VanshDeo/OpenQuest/internal/fetch"
	"github.com/VanshDeo/OpenQuest/internal/filter"
	"github.com/VanshDeo/OpenQuest/internal/store"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// Progress checkpoints reported while a job runs. Embedding interpolates
// between progressChunked and progressEmbedded batch by batch.
const (
	progressFetched  = 25
	progressFiltered = 30
	progressChunked  = 45
	progressEmbedded = 80
	progressWritten  = 95
)

// Fetcher produces a repository snapshot from a URL.
type Fetcher interface {
	FetchRepo(ctx context.Context, url string) (*fetch.FileSet, error)
}

// Ingestor turns a fetched snapshot into stored embeddings. It is shared
// by the queue workers and the local indexing command. The zero values of
// ChunkOpts and MaxFileBytes mean package defaults.
type Ingestor struct {
	Store        store.ChunkStore
	Client       ai.Client
	ChunkOpts    chunk.Options
	MaxFileBytes int64
	// EngineOpts are appended after the ingestor's own options, so
	// callers can override pacing in tests.
	EngineOpts []embed.Option
}

// IndexFileSet filters, chunks, embeds, and writes fs. progress, when
// non-nil, receives checkpoint percentages as stages finish.
func (ing *Ingestor) IndexFileSet(ctx context.Context, fs *fetch.FileSet, progress func(int)) (models.IndexResult, error) {
	start := time.Now()
	res := models.IndexResult{RepoID: fs.RepoID, CommitHash: fs.CommitHash}
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}

	if err := ing.Store.EnsureRepo(ctx, fs.RepoID); err != nil {
		return res, err
	}
	if err := ing.Store.MarkIndexing(ctx, fs.RepoID); err != nil {
		return res, err
	}

	filtered := filter.New(ing.MaxFileBytes).Apply(fs.Files)
	res.FilesAccepted = len(filtered.Accepted)
	res.FilesRejected = len(filtered.Rejected)
	for _, rej := range filtered.Rejected {
		log.Debug().Str("path", rej.Path).Str("reason", string(rej.Reason)).Msg("file rejected")
	}
	log.Info().
		Str("repo_id", fs.RepoID).
		Int("kept", res.FilesAccepted).
		Int("rejected", res.FilesRejected).
		Msg("files filtered")
	report(progressFiltered)

	chunker := chunk.NewWithOptions(ing.ChunkOpts)
	defer chunker.Close()

	var chunks []models.Chunk
	astFiles := 0
	for _, file := range filtered.Accepted {
		fileChunks, strategy, err := chunker.Chunk(ctx, fs.RepoID, file.Path, string(file.Content))
		if err != nil {
			return res, err
		}
		if strategy == models.StrategyAST {
			astFiles++
		}
		chunks = append(chunks, fileChunks...)
	}
	log.Info().
		Str("repo_id", fs.RepoID).
		Int("chunks", len(chunks)).
		Int("ast_files", astFiles).
		Msg("chunking done")
	report(progressChunked)

	opts := append([]embed.Option{
		embed.WithProgress(func(done, total int) {
			if total == 0 {
				return
			}
			report(progressChunked + (progressEmbedded-progressChunked)*done/total)
		}),
	}, ing.EngineOpts...)
	engine := embed.NewEngine(ing.Client, opts...)

	result, err := engine.EmbedChunks(ctx, chunks)
	if err != nil {
		return res, err
	}

	strategy, err := ing.Store.Write(ctx, result.Embedded, store.WriteMeta{
		RepoID:        fs.RepoID,
		CommitHash:    fs.CommitHash,
		DefaultBranch: fs.DefaultBranch,
		Model:         result.Model,
		DevOnly:       ing.Client.DevOnly(),
	})
	if err != nil {
		return res, err
	}
	report(progressWritten)

	res.Strategy = strategy
	if strategy != models.WriteSkipped {
		res.ChunksWritten = len(result.Embedded)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res, nil
}

// Runner leases jobs and executes them on a small worker pool.
type Runner struct {
	Queue    Queue
	Fetcher  Fetcher
	Ingestor *Ingestor
	Workers  int
}

// DefaultWorkers bounds concurrent indexing runs per process.
const DefaultWorkers = 2

// NewRunner wires a runner; workers below 1 fall back to DefaultWorkers.
func NewRunner(queue Queue, fetcher Fetcher, ingestor *Ingestor, workers int) *Runner {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Runner{Queue: queue, Fetcher: fetcher, Ingestor: ingestor, Workers: workers}
}

// Run drains the queue until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (r *Runner) workerLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := r.Queue.Lease(ctx)
		if err != nil {
			if apperr.KindOf(err) == apperr.Cancelled {
				continue
			}
			log.Error().Err(err).Int("worker", worker).Msg("lease failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(leaseBlock):
			}
			continue
		}
		if !ok {
			continue
		}
		r.execute(ctx, job)
	}
}

func (r *Runner) execute(ctx context.Context, job Job) {
	log.Info().Str("job_id", job.ID).Str("repo_id", job.RepoID).Msg("job started")
	if err := r.runJob(ctx, job); err != nil {
		r.failJob(job, err)
		return
	}
	log.Info().Str("job_id", job.ID).Str("repo_id", job.RepoID).Msg("job finished")
}

func (r *Runner) runJob(ctx context.Context, job Job) error {
	fs, err := r.Fetcher.FetchRepo(ctx, job.GithubURL)
	if err != nil {
		return err
	}
	r.progress(ctx, job.ID, progressFetched)

	// An index already holding this commit under the current model and
	// schema needs no work; the writer re-checks this under its lock.
	rec, ok, err := r.Ingestor.Store.GetRepoIndex(ctx, fs.RepoID)
	if err == nil && ok &&
		rec.Status == models.StatusReady &&
		rec.CommitHash == fs.CommitHash &&
		rec.EmbeddingModel == r.Ingestor.Client.EmbeddingModel() &&
		rec.SchemaVersion == store.CurrentSchemaVersion {
		log.Info().Str("repo_id", fs.RepoID).Str("commit", fs.CommitHash).Msg("index already current")
		return r.Queue.Complete(ctx, job.ID, string(models.WriteSkipped))
	}

	res, err := r.Ingestor.IndexFileSet(ctx, fs, func(p int) {
		r.progress(ctx, job.ID, p)
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("job_id", job.ID).
		Str("repo_id", fs.RepoID).
		Str("strategy", string(res.Strategy)).
		Int("files", res.FilesAccepted).
		Int("chunks", res.ChunksWritten).
		Int64("dur_ms", res.DurationMs).
		Msg("index written")
	return r.Queue.Complete(ctx, job.ID, string(res.Strategy))
}

// failJob records the failure on a fresh context: the job context may
// already be cancelled, and the status write must still land.
func (r *Runner) failJob(job Job, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Error().Err(cause).Str("job_id", job.ID).Str("repo_id", job.RepoID).Msg("job failed")
	if err := r.Queue.Fail(ctx, job.ID, cause.Error()); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("recording job failure failed")
	}
	if job.RepoID != "" {
		if err := r.Ingestor.Store.MarkFailed(ctx, job.RepoID); err != nil {
			log.Error().Err(err).Str("repo_id", job.RepoID).Msg("marking repository failed failed")
		}
	}
}

func (r *Runner) progress(ctx context.Context, id string, p int) {
	if err := r.Queue.SetProgress(ctx, id, p); err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("progress update failed")
	}
}
