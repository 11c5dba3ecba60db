package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
)

// TextEmbedder is the query-embedding surface of the embed client.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// WrapLRUCache memoizes query-text embeddings with a TTL so repeated
// searches for the same text spend one provider call. Invalid sizes return
// the embedder unwrapped.
func WrapLRUCache(next TextEmbedder, size int, ttl time.Duration) TextEmbedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruTextEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruTextEmbedder struct {
	next  TextEmbedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := buildCacheKey(l.next.ModelName(), text)
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("query embedding cache hit")
		return cloneVector(cached), nil
	}
	vec, err := l.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, cloneVector(vec))
	return vec, nil
}

func (l *lruTextEmbedder) ModelName() string {
	return l.next.ModelName()
}

func buildCacheKey(modelName, text string) string {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	return "query:" + modelName + ":" + hex.EncodeToString(hash[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
