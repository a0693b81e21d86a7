package search

import (
	"sort"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// Reranking constants: the top candidates by vector score nominate their
// file paths as anchors, and chunks in anchor files receive proximityBoost
// each, at most proximityBoostCap per file.
const (
	anchorCount       = 3
	proximityBoost    = 0.08
	proximityBoostCap = 0.16
)

// Rerank applies the file-proximity boost and returns candidates in
// descending final-score order. Ties fall back to raw vector score, then
// to the original retrieval order. The input slice is not modified.
func Rerank(candidates []models.RetrievedChunk) []models.RetrievedChunk {
	if len(candidates) == 0 {
		return nil
	}

	ranked := make([]models.RetrievedChunk, len(candidates))
	copy(ranked, candidates)

	anchors := anchorFiles(ranked)

	// Candidates arrive in vector-score order, so walking the slice hands
	// each file's boost budget to its strongest chunks first.
	granted := make(map[string]float64, len(anchors))
	for i := range ranked {
		ranked[i].ProximityBoost = 0
		path := ranked[i].FilePath
		if _, ok := anchors[path]; ok && granted[path] < proximityBoostCap {
			ranked[i].ProximityBoost = proximityBoost
			granted[path] += proximityBoost
		}
		ranked[i].Score = ranked[i].VectorScore + ranked[i].ProximityBoost
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].VectorScore > ranked[j].VectorScore
	})
	return ranked
}

// anchorFiles collects the file paths of the top min(anchorCount, n)
// candidates by vector score.
func anchorFiles(candidates []models.RetrievedChunk) map[string]struct{} {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return candidates[order[a]].VectorScore > candidates[order[b]].VectorScore
	})

	n := anchorCount
	if len(order) < n {
		n = len(order)
	}
	anchors := make(map[string]struct{}, n)
	for _, idx := range order[:n] {
		anchors[candidates[idx].FilePath] = struct{}{}
	}
	return anchors
}
