package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	EnsureRepo(ctx context.Context, repoID string) error
	MarkIndexing(ctx context.Context, repoID string) error
	MarkFailed(ctx context.Context, repoID string) error
	GetRepoIndex(ctx context.Context, repoID string) (models.RepoIndex, bool, error)
	ListRepos(ctx context.Context) ([]models.RepoIndex, error)
	Write(ctx context.Context, embedded []models.EmbeddedChunk, meta WriteMeta) (models.WriteStrategy, error)
	Search(ctx context.Context, queryVec []float32, opt SearchOpts) ([]models.RetrievedChunk, error)
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	// Register the vector codec on every connection so CopyFrom can ship
	// embeddings over the binary protocol.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repo_index (
  repo_id         TEXT PRIMARY KEY,
  status          TEXT NOT NULL,
  commit_hash     TEXT,
  default_branch  TEXT,
  embedding_model TEXT,
  schema_version  INT NOT NULL DEFAULT 1,
  chunk_count     INT NOT NULL DEFAULT 0,
  updated_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS code_chunks (
  id           TEXT PRIMARY KEY,
  repo_id      TEXT NOT NULL,
  file_path    TEXT NOT NULL,
  language     TEXT,
  content      TEXT NOT NULL,
  start_line   INT NOT NULL,
  end_line     INT NOT NULL,
  symbol_name  TEXT,
  chunk_index  INT NOT NULL,
  embedding    vector(%d) NOT NULL,
  embedded_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  UNIQUE (repo_id, file_path, chunk_index)
);

CREATE INDEX IF NOT EXISTS code_chunks_repo_idx
  ON code_chunks (repo_id);

CREATE INDEX IF NOT EXISTS code_chunks_embedding_idx
  ON code_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// EnsureRepo creates the repository record as pending if it does not exist.
func (s *Store) EnsureRepo(ctx context.Context, repoID string) error {
	const q = `
		INSERT INTO repo_index (repo_id, status)
		VALUES ($1, $2)
		ON CONFLICT (repo_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, repoID, models.StatusPending)
	return err
}

// MarkIndexing flips a repository to the indexing state.
func (s *Store) MarkIndexing(ctx context.Context, repoID string) error {
	return s.setStatus(ctx, repoID, models.StatusIndexing)
}

// MarkFailed records a failed run. Only the status changes; the last ready
// snapshot (commit, model, chunk count) stays queryable.
func (s *Store) MarkFailed(ctx context.Context, repoID string) error {
	return s.setStatus(ctx, repoID, models.StatusFailed)
}

func (s *Store) setStatus(ctx context.Context, repoID string, status models.IndexStatus) error {
	const q = `UPDATE repo_index SET status = $2, updated_at = now() WHERE repo_id = $1`
	_, err := s.pool.Exec(ctx, q, repoID, status)
	return err
}

// GetRepoIndex retrieves the index record for one repository.
func (s *Store) GetRepoIndex(ctx context.Context, repoID string) (models.RepoIndex, bool, error) {
	const q = `
		SELECT repo_id, status, COALESCE(commit_hash, ''), COALESCE(default_branch, ''),
		       COALESCE(embedding_model, ''), schema_version, chunk_count, updated_at
		FROM repo_index
		WHERE repo_id = $1`
	rec, err := scanRepoIndex(s.pool.QueryRow(ctx, q, repoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RepoIndex{}, false, nil
		}
		return models.RepoIndex{}, false, err
	}
	return rec, true, nil
}

// ListRepos returns every repository index record.
func (s *Store) ListRepos(ctx context.Context) ([]models.RepoIndex, error) {
	const q = `
		SELECT repo_id, status, COALESCE(commit_hash, ''), COALESCE(default_branch, ''),
		       COALESCE(embedding_model, ''), schema_version, chunk_count, updated_at
		FROM repo_index
		ORDER BY repo_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []models.RepoIndex
	for rows.Next() {
		rec, err := scanRepoIndex(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, rec)
	}
	return repos, rows.Err()
}

func scanRepoIndex(row pgx.Row) (models.RepoIndex, error) {
	var rec models.RepoIndex
	var status string
	err := row.Scan(&rec.RepoID, &status, &rec.CommitHash, &rec.DefaultBranch,
		&rec.EmbeddingModel, &rec.SchemaVersion, &rec.ChunkCount, &rec.UpdatedAt)
	if err != nil {
		return models.RepoIndex{}, err
	}
	rec.Status = models.IndexStatus(status)
	return rec, nil
}

// SearchOpts narrows an ANN query.
type SearchOpts struct {
	RepoID       string
	MinScore     float64  // drop candidates scoring below this
	Limit        int      // candidate pool size, usually topK * multiplier
	PathPrefixes []string // optional: only chunks under these path prefixes
}

// Search runs the ANN query scoped to one repository. Scores are cosine
// similarities in [0,1]; only VectorScore is populated, reranking happens
// upstream.
func (s *Store) Search(ctx context.Context, queryVec []float32, opt SearchOpts) ([]models.RetrievedChunk, error) {
	vec := pgvector.NewVector(queryVec)

	args := []any{vec, opt.RepoID, opt.MinScore}
	where := `repo_id = $2 AND 1 - (embedding <=> $1) >= $3`
	if len(opt.PathPrefixes) > 0 {
		patterns := make([]string, len(opt.PathPrefixes))
		for i, p := range opt.PathPrefixes {
			patterns[i] = p + "%"
		}
		args = append(args, patterns)
		where += fmt.Sprintf(" AND file_path LIKE ANY($%d)", len(args))
	}
	args = append(args, opt.Limit)

	q := fmt.Sprintf(`
SELECT id, repo_id, file_path, COALESCE(language, ''), COALESCE(symbol_name, ''),
       start_line, end_line, content, chunk_index, embedded_at,
       1 - (embedding <=> $1) AS vector_score
FROM code_chunks
WHERE %s
ORDER BY embedding <=> $1
LIMIT $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RetrievedChunk
	for rows.Next() {
		var rc models.RetrievedChunk
		if err := rows.Scan(
			&rc.ID, &rc.RepoID, &rc.FilePath, &rc.Language, &rc.SymbolName,
			&rc.StartLine, &rc.EndLine, &rc.Content, &rc.ChunkIndex, &rc.EmbeddedAt,
			&rc.VectorScore,
		); err != nil {
			return nil, err
		}
		rc.Score = rc.VectorScore
		out = append(out, rc)
	}
	return out, rows.Err()
}
