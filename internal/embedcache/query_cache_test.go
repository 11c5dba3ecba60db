package embedcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	fail  bool
}

func (c *countingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, fmt.Errorf("provider down")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return "m1" }

func TestWrapLRUCache_RepeatedQueryHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	cached := WrapLRUCache(inner, 8, time.Minute)
	ctx := context.Background()

	first, err := cached.EmbedText(ctx, "red chair")
	require.NoError(t, err)
	second, err := cached.EmbedText(ctx, "red chair")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, inner.calls)

	_, err = cached.EmbedText(ctx, "blue chair")
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}

func TestWrapLRUCache_ReturnedVectorIsIsolated(t *testing.T) {
	inner := &countingEmbedder{}
	cached := WrapLRUCache(inner, 8, time.Minute)
	ctx := context.Background()

	first, err := cached.EmbedText(ctx, "sofa")
	require.NoError(t, err)
	first[0] = -99

	second, err := cached.EmbedText(ctx, "sofa")
	require.NoError(t, err)
	require.NotEqual(t, float32(-99), second[0], "callers must not share the cached backing array")
}

func TestWrapLRUCache_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	cached := WrapLRUCache(inner, 8, time.Minute)
	ctx := context.Background()

	_, err := cached.EmbedText(ctx, "lamp")
	require.Error(t, err)
	inner.fail = false

	vec, err := cached.EmbedText(ctx, "lamp")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	require.Equal(t, 2, inner.calls)
}

func TestWrapLRUCache_DisabledPassesThrough(t *testing.T) {
	inner := &countingEmbedder{}
	require.Equal(t, TextEmbedder(inner), WrapLRUCache(inner, 0, time.Minute))
	require.Equal(t, TextEmbedder(inner), WrapLRUCache(inner, 8, 0))
	require.Nil(t, WrapLRUCache(nil, 8, time.Minute))
}
