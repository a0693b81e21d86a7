package search

import (
	"testing"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

func ids(chunks []models.RetrievedChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRerank_Empty(t *testing.T) {
	if got := Rerank(nil); got != nil {
		t.Errorf("Expected nil for nil input, got %v", got)
	}
	if got := Rerank([]models.RetrievedChunk{}); got != nil {
		t.Errorf("Expected nil for empty input, got %v", got)
	}
}

func TestRerank_BoostLiftsColocatedChunk(t *testing.T) {
	// Anchors come from the top three: files A and B. The low-scoring
	// chunk in B picks up the remaining boost and overtakes the chunk
	// in C, which is not an anchor file.
	candidates := []models.RetrievedChunk{
		retrieved("a1", "src/a.go", 0.90),
		retrieved("b1", "src/b.go", 0.85),
		retrieved("a2", "src/a.go", 0.80),
		retrieved("c1", "src/c.go", 0.78),
		retrieved("b2", "src/b.go", 0.75),
	}

	ranked := Rerank(candidates)

	expected := []string{"a1", "b1", "a2", "b2", "c1"}
	if !equalIDs(ids(ranked), expected) {
		t.Fatalf("Expected order %v, got %v", expected, ids(ranked))
	}

	boosts := map[string]float64{"a1": 0.08, "b1": 0.08, "a2": 0.08, "b2": 0.08, "c1": 0}
	for _, c := range ranked {
		if c.ProximityBoost != boosts[c.ID] {
			t.Errorf("Chunk %s: expected boost %v, got %v", c.ID, boosts[c.ID], c.ProximityBoost)
		}
		if c.Score != c.VectorScore+c.ProximityBoost {
			t.Errorf("Chunk %s: score %v is not vectorScore %v + boost %v",
				c.ID, c.Score, c.VectorScore, c.ProximityBoost)
		}
	}
}

func TestRerank_PerFileCap(t *testing.T) {
	// Four chunks from one file: only the strongest two get boosted.
	candidates := []models.RetrievedChunk{
		retrieved("a", "src/big.go", 0.9),
		retrieved("b", "src/big.go", 0.8),
		retrieved("c", "src/big.go", 0.7),
		retrieved("d", "src/big.go", 0.6),
	}

	ranked := Rerank(candidates)

	expectedBoosts := []float64{0.08, 0.08, 0, 0}
	total := 0.0
	for i, c := range ranked {
		if c.ProximityBoost != expectedBoosts[i] {
			t.Errorf("Position %d (%s): expected boost %v, got %v", i, c.ID, expectedBoosts[i], c.ProximityBoost)
		}
		total += c.ProximityBoost
	}
	if total != proximityBoostCap {
		t.Errorf("Expected total file boost %v, got %v", proximityBoostCap, total)
	}
}

func TestRerank_FewerThanThreeCandidates(t *testing.T) {
	candidates := []models.RetrievedChunk{
		retrieved("a", "src/a.go", 0.9),
		retrieved("b", "src/b.go", 0.5),
	}

	ranked := Rerank(candidates)

	for _, c := range ranked {
		if c.ProximityBoost != proximityBoost {
			t.Errorf("Chunk %s: expected boost %v with every candidate an anchor, got %v",
				c.ID, proximityBoost, c.ProximityBoost)
		}
	}
	if !equalIDs(ids(ranked), []string{"a", "b"}) {
		t.Errorf("Expected order [a b], got %v", ids(ranked))
	}
}

func TestRerank_TieBreakPrefersVectorScore(t *testing.T) {
	// "late" ties with "boosted" on final score but has the higher raw
	// vector score, so it must sort first even though it arrives later.
	tie := 0.72 + proximityBoost
	candidates := []models.RetrievedChunk{
		retrieved("p1", "src/f1.go", 0.95),
		retrieved("p2", "src/f2.go", 0.90),
		retrieved("p3", "src/f1.go", 0.85),
		retrieved("boosted", "src/f2.go", 0.72),
		retrieved("late", "src/f3.go", tie),
	}

	ranked := Rerank(candidates)

	expected := []string{"p1", "p2", "p3", "late", "boosted"}
	if !equalIDs(ids(ranked), expected) {
		t.Fatalf("Expected order %v, got %v", expected, ids(ranked))
	}
}

func TestRerank_StableForEqualCandidates(t *testing.T) {
	// Identical scores outside anchor files: retrieval order is kept.
	candidates := []models.RetrievedChunk{
		retrieved("p1", "src/f1.go", 0.95),
		retrieved("p2", "src/f1.go", 0.90),
		retrieved("p3", "src/f1.go", 0.85),
		retrieved("x", "src/x.go", 0.5),
		retrieved("y", "src/y.go", 0.5),
	}

	ranked := Rerank(candidates)

	got := ids(ranked)
	if got[3] != "x" || got[4] != "y" {
		t.Errorf("Expected equal candidates to keep retrieval order [x y], got %v", got[3:])
	}
}

func TestRerank_DoesNotMutateInput(t *testing.T) {
	candidates := []models.RetrievedChunk{
		retrieved("a", "src/a.go", 0.9),
		retrieved("b", "src/a.go", 0.8),
	}

	Rerank(candidates)

	for _, c := range candidates {
		if c.ProximityBoost != 0 || c.Score != 0 {
			t.Errorf("Chunk %s: input slice was mutated (boost=%v score=%v)", c.ID, c.ProximityBoost, c.Score)
		}
	}
}
