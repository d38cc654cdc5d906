package vector

import (
	"sort"

	"github.com/hyperjump/shashin/internal/models"
)

// Candidate is an asset together with its decoded embedding.
type Candidate struct {
	Asset  *models.MediaAsset
	Vector []float32
}

// ScoredResult pairs an asset with its similarity to the query. It only lives
// for the duration of a search call.
type ScoredResult struct {
	Asset *models.MediaAsset
	Score float64
}

// Ranker orders candidates by similarity to a query vector.
type Ranker interface {
	Rank(query []float32, candidates []Candidate) []ScoredResult
}

// FullScanRanker scores every candidate with cosine similarity. Cost is
// O(n*d) per call; there is no index.
type FullScanRanker struct{}

// NewFullScanRanker returns a brute-force cosine ranker.
func NewFullScanRanker() *FullScanRanker {
	return &FullScanRanker{}
}

// Rank returns one result per candidate, ordered by score descending, then
// CreatedAt descending, then ID ascending.
func (r *FullScanRanker) Rank(query []float32, candidates []Candidate) []ScoredResult {
	results := make([]ScoredResult, len(candidates))
	for i, c := range candidates {
		results[i] = ScoredResult{Asset: c.Asset, Score: CosineSimilarity(query, c.Vector)}
	}
	SortResults(results)
	return results
}

// SortResults sorts results into the ranking order in place.
func SortResults(results []ScoredResult) {
	sort.Slice(results, func(i, j int) bool {
		return less(results[i], results[j])
	})
}

func less(a, b ScoredResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Asset.CreatedAt.Equal(b.Asset.CreatedAt) {
		return a.Asset.CreatedAt.After(b.Asset.CreatedAt)
	}
	return a.Asset.ID < b.Asset.ID
}
