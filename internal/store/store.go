package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/shintairiku/cohere-rag/internal/config"
	"github.com/shintairiku/cohere-rag/internal/model"
)

// Store persists one snapshot per tenant plus the in-flight checkpoint.
// Load of an unknown tenant returns ErrNotFound, never an empty snapshot.
// Save is atomic: the previous snapshot becomes an enumerable backup before
// the new one replaces it, and a failed save leaves the old snapshot intact.
type Store interface {
	Name() string
	Load(ctx context.Context, tenantID string) (*model.Snapshot, error)
	Save(ctx context.Context, tenantID string, snap *model.Snapshot) error
	Delete(ctx context.Context, tenantID string) error

	ListBackups(ctx context.Context, tenantID string) ([]model.BackupInfo, error)
	Restore(ctx context.Context, tenantID string, version int64) error

	LoadCheckpoint(ctx context.Context, tenantID string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, tenantID string, cp *model.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, tenantID string) error

	Ping(ctx context.Context) error
}

type Factory func(args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// New builds the configured backend and wraps it with per-tenant write
// locking so concurrent saves for one tenant serialize.
func New(cfg config.StoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
	backend, err := factory(cfg.Data)
	if err != nil {
		return nil, err
	}
	return WithLocking(backend), nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}
