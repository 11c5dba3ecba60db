package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/shintairiku/cohere-rag/internal/batch"
	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
	"github.com/shintairiku/cohere-rag/internal/repo"
	"github.com/shintairiku/cohere-rag/internal/source"
	"github.com/shintairiku/cohere-rag/internal/store"
)

// TenantService manages the tenant registry. Deleting a tenant removes its
// registry row, run history, snapshot, checkpoint and backups.
type TenantService struct {
	tenants *repo.TenantRepo
	runs    *repo.RunRepo
	store   store.Store
	guard   *batch.RunGuard
	search  *SearchService
}

func NewTenantService(tenants *repo.TenantRepo, runs *repo.RunRepo, st store.Store, guard *batch.RunGuard, search *SearchService) *TenantService {
	return &TenantService{tenants: tenants, runs: runs, store: st, guard: guard, search: search}
}

func (s *TenantService) Create(ctx context.Context, name, folderRef string, autoSync bool) (*model.Tenant, error) {
	name = strings.TrimSpace(name)
	folderRef = source.NormalizeFolderRef(folderRef)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", errs.ErrInvalid)
	}
	if folderRef == "" {
		return nil, fmt.Errorf("%w: folder_ref is required", errs.ErrInvalid)
	}
	now := time.Now().UnixMilli()
	tenant := &model.Tenant{
		ID:        newID(),
		Name:      name,
		FolderRef: folderRef,
		AutoSync:  autoSync,
		Ctime:     now,
		Mtime:     now,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("tenant created",
		zap.String("tenant_id", tenant.ID), zap.String("folder_ref", tenant.FolderRef))
	return tenant, nil
}

func (s *TenantService) Get(ctx context.Context, id string) (*model.Tenant, error) {
	return s.tenants.Get(ctx, id)
}

func (s *TenantService) List(ctx context.Context) ([]model.Tenant, error) {
	return s.tenants.List(ctx)
}

func (s *TenantService) Update(ctx context.Context, id, name, folderRef string, autoSync *bool) (*model.Tenant, error) {
	tenant, err := s.tenants.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" {
		tenant.Name = name
	}
	if folderRef = source.NormalizeFolderRef(folderRef); folderRef != "" {
		tenant.FolderRef = folderRef
	}
	if autoSync != nil {
		tenant.AutoSync = *autoSync
	}
	tenant.Mtime = time.Now().UnixMilli()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// ListBackups enumerates the tenant's retained snapshot backups, newest
// first.
func (s *TenantService) ListBackups(ctx context.Context, id string) ([]model.BackupInfo, error) {
	if _, err := s.tenants.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListBackups(ctx, id)
}

// Restore rolls the tenant's snapshot back to a retained backup version.
// Refused while a sync is running; the pipeline would overwrite the restored
// state at its next checkpoint.
func (s *TenantService) Restore(ctx context.Context, id string, version int64) error {
	if _, err := s.tenants.Get(ctx, id); err != nil {
		return err
	}
	if s.guard.Running(id) {
		return fmt.Errorf("%w: tenant %s", errs.ErrRunInFlight, id)
	}
	if err := s.store.Restore(ctx, id, version); err != nil {
		return err
	}
	s.search.Invalidate(id)
	logutil.GetLogger(ctx).Info("snapshot restored",
		zap.String("tenant_id", id), zap.Int64("version", version))
	return nil
}

// Delete refuses while a sync holds the tenant's run slot; dropping the
// snapshot under a running pipeline would resurrect it at finalize.
func (s *TenantService) Delete(ctx context.Context, id string) error {
	if s.guard.Running(id) {
		return fmt.Errorf("%w: tenant %s", errs.ErrRunInFlight, id)
	}
	if err := s.tenants.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.runs.DeleteByTenant(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.search.Invalidate(id)
	logutil.GetLogger(ctx).Info("tenant deleted", zap.String("tenant_id", id))
	return nil
}
