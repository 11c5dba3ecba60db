package search

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

func snapshotWith(records ...model.EmbeddingRecord) *model.Snapshot {
	snap := model.NewSnapshot("tenant-1", "test-model")
	for _, rec := range records {
		snap.Records[rec.RemoteID] = rec
	}
	return snap
}

func rec(id, path string, vector ...float32) model.EmbeddingRecord {
	return model.EmbeddingRecord{RemoteID: id, RelativePath: path, Vector: vector}
}

func paths(results []model.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.RelativePath)
	}
	return out
}

func TestCosineIdentities(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}), 1e-9)
	require.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestSimilarRanking(t *testing.T) {
	// against query (1,0): a=0.9-ish, b=0.5-ish, c=0.2-ish
	snap := snapshotWith(
		rec("a", "a.jpg", 0.9, float32(math.Sqrt(1-0.81))),
		rec("b", "b.jpg", 0.5, float32(math.Sqrt(1-0.25))),
		rec("c", "c.jpg", 0.2, float32(math.Sqrt(1-0.04))),
	)
	query := []float32{1, 0}

	results, err := Similar(snap, query, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpg", "b.jpg"}, paths(results))
	require.InDelta(t, 0.9, *results[0].SimilarityScore, 1e-6)
	require.InDelta(t, 0.5, *results[1].SimilarityScore, 1e-6)

	results, err = Similar(snap, query, 2, map[string]struct{}{"a.jpg": {}})
	require.NoError(t, err)
	require.Equal(t, []string{"b.jpg", "c.jpg"}, paths(results))
}

func TestSimilarTieBreakByPath(t *testing.T) {
	snap := snapshotWith(
		rec("z", "z.jpg", 1, 0),
		rec("m", "m.jpg", 1, 0),
		rec("a", "a.jpg", 1, 0),
	)
	results, err := Similar(snap, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpg", "m.jpg", "z.jpg"}, paths(results))
}

func TestSimilarZeroQueryVector(t *testing.T) {
	snap := snapshotWith(rec("a", "a.jpg", 1, 0), rec("b", "b.jpg", 0, 1))
	results, err := Similar(snap, []float32{0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Zero(t, *r.SimilarityScore)
	}
}

func TestSimilarClampsTopK(t *testing.T) {
	snap := snapshotWith(rec("a", "a.jpg", 1, 0))
	results, err := Similar(snap, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSimilarInvalidQueries(t *testing.T) {
	snap := snapshotWith(rec("a", "a.jpg", 1, 0))

	_, err := Similar(snap, []float32{1, 0}, 0, nil)
	require.ErrorIs(t, err, errs.ErrInvalidQuery)

	_, err = Similar(snap, nil, 1, nil)
	require.ErrorIs(t, err, errs.ErrInvalidQuery)

	_, err = Similar(snap, []float32{1, 0, 0}, 1, nil)
	require.ErrorIs(t, err, errs.ErrInvalidQuery)
}

func TestSimilarEmptyStore(t *testing.T) {
	snap := model.NewSnapshot("tenant-1", "test-model")
	results, err := Similar(snap, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSimilarExclusionBeforeRanking(t *testing.T) {
	snap := snapshotWith(
		rec("a", "a.jpg", 1, 0),
		rec("b", "b.jpg", 0.8, 0.6),
		rec("c", "c.jpg", 0.6, 0.8),
	)
	exclude := map[string]struct{}{"a.jpg": {}, "b.jpg": {}}
	results, err := Similar(snap, []float32{1, 0}, 3, exclude)
	require.NoError(t, err)
	require.Equal(t, []string{"c.jpg"}, paths(results))
	for _, r := range results {
		_, excluded := exclude[r.RelativePath]
		require.False(t, excluded)
	}
}

func TestRandomSampling(t *testing.T) {
	snap := snapshotWith(
		rec("a", "a.jpg", 1, 0),
		rec("b", "b.jpg", 0, 1),
		rec("c", "c.jpg", 1, 1),
		rec("d", "d.jpg", 1, 2),
	)

	first, err := Random(snap, 2, nil, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEqual(t, first[0].RelativePath, first[1].RelativePath)
	for _, r := range first {
		require.Nil(t, r.SimilarityScore)
	}

	// same seed, same sample
	second, err := Random(snap, 2, nil, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Equal(t, paths(first), paths(second))
}

func TestRandomHonorsExclusion(t *testing.T) {
	snap := snapshotWith(
		rec("a", "a.jpg", 1, 0),
		rec("b", "b.jpg", 0, 1),
		rec("c", "c.jpg", 1, 1),
	)
	exclude := map[string]struct{}{"b.jpg": {}}
	for seed := int64(0); seed < 20; seed++ {
		results, err := Random(snap, 3, exclude, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			require.NotEqual(t, "b.jpg", r.RelativePath)
		}
	}
}

func TestRandomInvalid(t *testing.T) {
	snap := snapshotWith(rec("a", "a.jpg", 1, 0))
	_, err := Random(snap, 0, nil, rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, errs.ErrInvalidQuery)
	_, err = Random(snap, 1, nil, nil)
	require.ErrorIs(t, err, errs.ErrInvalidQuery)
}
