package search

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

// Similar ranks every non-excluded record by cosine similarity to query and
// returns the top k. Exclusion (by relative path) is applied before ranking,
// so k results come back whenever k non-excluded records exist. Ties are
// broken by ascending relative path. k is clamped to the candidate count; a
// k below 1 or a query whose dimensionality does not match the store is an
// invalid query.
func Similar(snap *model.Snapshot, query []float32, topK int, exclude map[string]struct{}) ([]model.SearchResult, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", errs.ErrInvalidQuery, topK)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", errs.ErrInvalidQuery)
	}
	if dim := snap.Dimension(); dim > 0 && dim != len(query) {
		return nil, fmt.Errorf("%w: query dimension %d does not match store dimension %d", errs.ErrInvalidQuery, len(query), dim)
	}

	type scored struct {
		rec   model.EmbeddingRecord
		score float64
	}
	candidates := make([]scored, 0, len(snap.Records))
	for _, rec := range snap.Records {
		if _, skip := exclude[rec.RelativePath]; skip {
			continue
		}
		candidates = append(candidates, scored{rec: rec, score: cosineSimilarity(query, rec.Vector)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rec.RelativePath < candidates[j].rec.RelativePath
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]model.SearchResult, 0, topK)
	for _, c := range candidates[:topK] {
		score := c.score
		results = append(results, model.SearchResult{
			RemoteID:        c.rec.RemoteID,
			RelativePath:    c.rec.RelativePath,
			SimilarityScore: &score,
		})
	}
	return results, nil
}

// Random samples k distinct non-excluded records uniformly without
// replacement. The rand source is injected so callers control determinism.
// Similarity scores are omitted.
func Random(snap *model.Snapshot, topK int, exclude map[string]struct{}, rnd *rand.Rand) ([]model.SearchResult, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", errs.ErrInvalidQuery, topK)
	}
	if rnd == nil {
		return nil, fmt.Errorf("%w: nil random source", errs.ErrInvalidQuery)
	}

	candidates := make([]model.EmbeddingRecord, 0, len(snap.Records))
	for _, rec := range snap.Records {
		if _, skip := exclude[rec.RelativePath]; skip {
			continue
		}
		candidates = append(candidates, rec)
	}
	// map iteration order is random; fix a base order so a seeded source
	// always yields the same sample
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].RelativePath < candidates[j].RelativePath })

	if topK > len(candidates) {
		topK = len(candidates)
	}
	for i := 0; i < topK; i++ {
		j := i + rnd.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	results := make([]model.SearchResult, 0, topK)
	for _, rec := range candidates[:topK] {
		results = append(results, model.SearchResult{
			RemoteID:     rec.RemoteID,
			RelativePath: rec.RelativePath,
		})
	}
	return results, nil
}

// cosineSimilarity is dot(a,b) / (|a| * |b|), 0 when either norm is 0 so a
// zero vector never causes a division error.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
