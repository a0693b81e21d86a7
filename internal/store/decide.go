package store

import (
	"github.com/VanshDeo/OpenQuest/internal/apperr"
	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// CurrentSchemaVersion is the chunk row layout generation. Bumping it forces
// a full reindex of every repository on its next write.
const CurrentSchemaVersion = 1

// DecideStrategy picks what the writer does with a fresh set of chunks, given
// the repository's prior index record. Pure; the writer calls it inside the
// locked transaction with the row it just read.
//
//   - never indexed (no prior model)          -> upsert
//   - same commit, same model, status ready   -> skipped
//   - model differs and ours is dev-only      -> SchemaMismatch refusal
//   - model or schema generation differs      -> full-reindex
//   - otherwise (new commit)                  -> upsert
func DecideStrategy(prior *models.RepoIndex, commit, model string, devOnly bool, schemaVersion int) (models.WriteStrategy, error) {
	if prior == nil || prior.EmbeddingModel == "" {
		return models.WriteUpsert, nil
	}

	if prior.CommitHash == commit && prior.EmbeddingModel == model && prior.Status == models.StatusReady {
		return models.WriteSkipped, nil
	}

	if prior.EmbeddingModel != model {
		if devOnly {
			return "", apperr.New(apperr.SchemaMismatch,
				"repository %s is indexed with %s; refusing to overwrite it with dev-only model %s",
				prior.RepoID, prior.EmbeddingModel, model)
		}
		return models.WriteFullReindex, nil
	}

	if prior.SchemaVersion != schemaVersion {
		return models.WriteFullReindex, nil
	}

	return models.WriteUpsert, nil
}
