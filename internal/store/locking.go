package store

import (
	"context"
	"sync"

	"github.com/shintairiku/cohere-rag/internal/model"
)

// lockingStore serializes mutating operations per tenant. Different tenants
// proceed independently; reads are not blocked because every backend write is
// already atomic at the whole-snapshot level.
type lockingStore struct {
	Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func WithLocking(backend Store) Store {
	if _, ok := backend.(*lockingStore); ok {
		return backend
	}
	return &lockingStore{
		Store: backend,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *lockingStore) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[tenantID] = lock
	}
	return lock
}

func (s *lockingStore) Save(ctx context.Context, tenantID string, snap *model.Snapshot) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return s.Store.Save(ctx, tenantID, snap)
}

func (s *lockingStore) Delete(ctx context.Context, tenantID string) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return s.Store.Delete(ctx, tenantID)
}

func (s *lockingStore) Restore(ctx context.Context, tenantID string, version int64) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return s.Store.Restore(ctx, tenantID, version)
}

func (s *lockingStore) SaveCheckpoint(ctx context.Context, tenantID string, cp *model.Checkpoint) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return s.Store.SaveCheckpoint(ctx, tenantID, cp)
}

func (s *lockingStore) DeleteCheckpoint(ctx context.Context, tenantID string) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return s.Store.DeleteCheckpoint(ctx, tenantID)
}
