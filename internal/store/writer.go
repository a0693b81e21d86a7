package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// WriteMeta describes the ingestion a chunk set came from.
type WriteMeta struct {
	RepoID        string
	CommitHash    string
	DefaultBranch string
	Model         string
	DevOnly       bool
}

// Write lands an embedded chunk set in one transaction. A per-repository
// advisory lock serializes concurrent writers; the strategy is decided from
// the repo_index row read under that lock. On skipped nothing is written.
func (s *Store) Write(ctx context.Context, embedded []models.EmbeddedChunk, meta WriteMeta) (models.WriteStrategy, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, meta.RepoID); err != nil {
		return "", err
	}

	prior, err := lockRepoRow(ctx, tx, meta.RepoID)
	if err != nil {
		return "", err
	}

	strategy, err := DecideStrategy(prior, meta.CommitHash, meta.Model, meta.DevOnly, CurrentSchemaVersion)
	if err != nil {
		return "", err
	}

	switch strategy {
	case models.WriteSkipped:
		log.Info().Str("repo_id", meta.RepoID).Str("commit", meta.CommitHash).
			Msg("index already current, skipping write")
		return strategy, tx.Commit(ctx)

	case models.WriteFullReindex:
		if _, err := tx.Exec(ctx, `DELETE FROM code_chunks WHERE repo_id = $1`, meta.RepoID); err != nil {
			return "", err
		}
		if err := copyChunks(ctx, tx, embedded); err != nil {
			return "", err
		}

	case models.WriteUpsert:
		if err := upsertChunks(ctx, tx, meta.RepoID, embedded); err != nil {
			return "", err
		}
	}

	if err := updateRepoRow(ctx, tx, meta, len(embedded)); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}

	log.Info().Str("repo_id", meta.RepoID).Str("strategy", string(strategy)).
		Int("chunks", len(embedded)).Msg("index written")
	return strategy, nil
}

// lockRepoRow reads the repository record FOR UPDATE. Nil prior means the
// repository has never been recorded.
func lockRepoRow(ctx context.Context, tx pgx.Tx, repoID string) (*models.RepoIndex, error) {
	const q = `
		SELECT repo_id, status, COALESCE(commit_hash, ''), COALESCE(default_branch, ''),
		       COALESCE(embedding_model, ''), schema_version, chunk_count, updated_at
		FROM repo_index
		WHERE repo_id = $1
		FOR UPDATE`
	rec, err := scanRepoIndex(tx.QueryRow(ctx, q, repoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

var chunkColumns = []string{
	"id", "repo_id", "file_path", "language", "content",
	"start_line", "end_line", "symbol_name", "chunk_index", "embedding", "embedded_at",
}

// copyChunks bulk-inserts into the freshly emptied repo partition over the
// COPY protocol.
func copyChunks(ctx context.Context, tx pgx.Tx, embedded []models.EmbeddedChunk) error {
	if len(embedded) == 0 {
		return nil
	}
	batchTime := time.Now().UTC()
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"code_chunks"},
		chunkColumns,
		pgx.CopyFromSlice(len(embedded), func(i int) ([]any, error) {
			ec := embedded[i]
			return []any{
				ec.ID, ec.RepoID, ec.FilePath, ec.Language, ec.Content,
				ec.StartLine, ec.EndLine, ec.SymbolName, ec.ChunkIndex,
				pgvector.NewVector(ec.Vector), batchTime,
			}, nil
		}),
	)
	return err
}

// upsertChunks rewrites the chunk set in place: every row touched by this
// batch gets the batch timestamp, then rows the batch did not touch (files
// removed upstream) are deleted.
func upsertChunks(ctx context.Context, tx pgx.Tx, repoID string, embedded []models.EmbeddedChunk) error {
	batchTime := time.Now().UTC()

	const q = `
		INSERT INTO code_chunks (
			id, repo_id, file_path, language, content,
			start_line, end_line, symbol_name, chunk_index, embedding, embedded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (repo_id, file_path, chunk_index) DO UPDATE SET
			id          = EXCLUDED.id,
			language    = EXCLUDED.language,
			content     = EXCLUDED.content,
			start_line  = EXCLUDED.start_line,
			end_line    = EXCLUDED.end_line,
			symbol_name = EXCLUDED.symbol_name,
			embedding   = EXCLUDED.embedding,
			embedded_at = EXCLUDED.embedded_at`

	b := &pgx.Batch{}
	for _, ec := range embedded {
		b.Queue(q,
			ec.ID, ec.RepoID, ec.FilePath, ec.Language, ec.Content,
			ec.StartLine, ec.EndLine, ec.SymbolName, ec.ChunkIndex,
			pgvector.NewVector(ec.Vector), batchTime,
		)
	}

	br := tx.SendBatch(ctx, b)
	var execErr error
	for range embedded {
		if _, err := br.Exec(); err != nil {
			execErr = err
			break
		}
	}
	if err := br.Close(); err != nil && execErr == nil {
		execErr = err
	}
	if execErr != nil {
		return execErr
	}

	_, err := tx.Exec(ctx,
		`DELETE FROM code_chunks WHERE repo_id = $1 AND embedded_at < $2`,
		repoID, batchTime)
	return err
}

// updateRepoRow marks the repository ready with the metadata of this write.
func updateRepoRow(ctx context.Context, tx pgx.Tx, meta WriteMeta, chunkCount int) error {
	const q = `
		INSERT INTO repo_index (
			repo_id, status, commit_hash, default_branch,
			embedding_model, schema_version, chunk_count, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		ON CONFLICT (repo_id) DO UPDATE SET
			status          = EXCLUDED.status,
			commit_hash     = EXCLUDED.commit_hash,
			default_branch  = EXCLUDED.default_branch,
			embedding_model = EXCLUDED.embedding_model,
			schema_version  = EXCLUDED.schema_version,
			chunk_count     = EXCLUDED.chunk_count,
			updated_at      = now()`
	_, err := tx.Exec(ctx, q,
		meta.RepoID, models.StatusReady, meta.CommitHash, meta.DefaultBranch,
		meta.Model, CurrentSchemaVersion, chunkCount)
	return err
}
