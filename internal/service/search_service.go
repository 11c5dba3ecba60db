package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/shintairiku/cohere-rag/internal/config"
	"github.com/shintairiku/cohere-rag/internal/embedcache"
	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
	"github.com/shintairiku/cohere-rag/internal/search"
	"github.com/shintairiku/cohere-rag/internal/store"
)

// SearchService serves similarity and random queries against tenant
// snapshots. Snapshots are cached with a TTL; a finished sync invalidates
// the tenant's entry so reads see the new state immediately.
type SearchService struct {
	store       store.Store
	embedder    embedcache.TextEmbedder
	snapshots   *expirable.LRU[string, *model.Snapshot]
	defaultTopK int
}

func NewSearchService(st store.Store, embedder embedcache.TextEmbedder, cfg config.SearchConfig) *SearchService {
	defaultTopK := cfg.DefaultTopK
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	size := cfg.SnapshotCacheSize
	if size <= 0 {
		size = 128
	}
	ttl := time.Duration(cfg.SnapshotCacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SearchService{
		store: st,
		embedder: embedcache.WrapLRUCache(embedder,
			cfg.QueryCacheSize, time.Duration(cfg.QueryCacheTTLSeconds)*time.Second),
		snapshots:   expirable.NewLRU[string, *model.Snapshot](size, nil, ttl),
		defaultTopK: defaultTopK,
	}
}

func (s *SearchService) Search(ctx context.Context, req model.SearchRequest) ([]model.SearchResult, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", errs.ErrInvalid)
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.defaultTopK
	}

	snap, err := s.snapshot(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	exclude := make(map[string]struct{}, len(req.Exclude))
	for _, path := range req.Exclude {
		exclude[path] = struct{}{}
	}

	switch req.Mode {
	case model.QueryModeSimilar:
		vector := req.Vector
		if len(vector) == 0 {
			if req.Query == "" {
				return nil, fmt.Errorf("%w: similar mode needs query text or a vector", errs.ErrInvalidQuery)
			}
			vector, err = s.embedder.EmbedText(ctx, req.Query)
			if err != nil {
				return nil, err
			}
		}
		return search.Similar(snap, vector, topK, exclude)
	case model.QueryModeRandom:
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		return search.Random(snap, topK, exclude, rnd)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", errs.ErrInvalidQuery, req.Mode)
	}
}

// Invalidate drops the tenant's cached snapshot. Called after every sync and
// on tenant deletion.
func (s *SearchService) Invalidate(tenantID string) {
	s.snapshots.Remove(tenantID)
}

func (s *SearchService) snapshot(ctx context.Context, tenantID string) (*model.Snapshot, error) {
	if snap, ok := s.snapshots.Get(tenantID); ok {
		return snap, nil
	}
	snap, err := s.store.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.snapshots.Add(tenantID, snap)
	return snap, nil
}
