package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/shintairiku/cohere-rag/internal/batch"
	"github.com/shintairiku/cohere-rag/internal/model"
	"github.com/shintairiku/cohere-rag/internal/notify"
	"github.com/shintairiku/cohere-rag/internal/repo"
	"github.com/shintairiku/cohere-rag/internal/source"
)

// Syncer runs one tenant sync end to end. Implemented by pipeline.Pipeline.
type Syncer interface {
	Run(ctx context.Context, tenant model.Tenant) (*model.SyncResult, error)
}

// SyncService owns every sync trigger path: the async HTTP trigger, the
// synchronous batch used by cron and the CLI, and the bookkeeping both share
// (run history, snapshot cache invalidation, notifications).
type SyncService struct {
	tenants     *repo.TenantRepo
	runs        *repo.RunRepo
	pipeline    Syncer
	guard       *batch.RunGuard
	search      *SearchService
	notifier    notify.Notifier
	maxParallel int
	reportDir   string
}

func NewSyncService(tenants *repo.TenantRepo, runs *repo.RunRepo, pipeline Syncer,
	guard *batch.RunGuard, search *SearchService, notifier notify.Notifier,
	maxParallel int, reportDir string) *SyncService {
	return &SyncService{
		tenants:     tenants,
		runs:        runs,
		pipeline:    pipeline,
		guard:       guard,
		search:      search,
		notifier:    notifier,
		maxParallel: maxParallel,
		reportDir:   reportDir,
	}
}

// TriggerSync starts an asynchronous sync for one tenant and returns once the
// run slot is claimed. ErrRunInFlight when a run already holds it. A non-empty
// folderRef overrides the registered folder for this run only.
func (s *SyncService) TriggerSync(ctx context.Context, tenantID, folderRef string) error {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if folderRef != "" {
		tenant.FolderRef = source.NormalizeFolderRef(folderRef)
	}
	if err := s.guard.TryAcquire(tenant.ID); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("sync accepted",
		zap.String("tenant_id", tenant.ID), zap.String("folder_ref", tenant.FolderRef))

	// detached from the request context; the run outlives the 202 response
	go func() {
		defer s.guard.Release(tenant.ID)
		_, _ = s.runLocked(context.Background(), *tenant, true)
	}()
	return nil
}

// SyncNow runs one tenant synchronously (CLI path).
func (s *SyncService) SyncNow(ctx context.Context, tenantID string) (*model.SyncResult, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.TryAcquire(tenant.ID); err != nil {
		return nil, err
	}
	defer s.guard.Release(tenant.ID)
	return s.runLocked(ctx, *tenant, true)
}

// RunBatch syncs every auto-sync tenant with the configured parallelism and
// returns the aggregated report. progress may be nil.
func (s *SyncService) RunBatch(ctx context.Context, progress batch.ProgressFunc) (*model.Report, error) {
	tenants, err := s.tenants.ListAutoSync(ctx)
	if err != nil {
		return nil, err
	}
	opts := []batch.Option{batch.WithReportDir(s.reportDir)}
	if progress != nil {
		opts = append(opts, batch.WithProgress(progress))
	}
	runner := batch.NewRunner(recordingSyncer{s}, s.guard, s.maxParallel, opts...)
	report, err := runner.RunAll(ctx, tenants)
	if report != nil {
		if nerr := s.notifier.BatchFinished(ctx, report); nerr != nil {
			logutil.GetLogger(ctx).Warn("batch notification failed", zap.Error(nerr))
		}
	}
	return report, err
}

// TriggerBatch starts RunBatch in the background (HTTP 202 path).
func (s *SyncService) TriggerBatch(ctx context.Context) {
	logutil.GetLogger(ctx).Info("batch sync accepted")
	go func() {
		if _, err := s.RunBatch(context.Background(), nil); err != nil {
			logutil.GetLogger(context.Background()).Error("batch sync failed", zap.Error(err))
		}
	}()
}

// ListRuns returns the tenant's recent run history, newest first.
func (s *SyncService) ListRuns(ctx context.Context, tenantID string, limit int) ([]model.SyncRun, error) {
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.runs.ListByTenant(ctx, tenantID, limit)
}

// runLocked executes one run and its bookkeeping. The caller must hold the
// tenant's run slot. Batch runs skip the per-run notification; the batch
// summary covers them.
func (s *SyncService) runLocked(ctx context.Context, tenant model.Tenant, notifyRun bool) (*model.SyncResult, error) {
	result, err := s.pipeline.Run(ctx, tenant)
	s.record(ctx, tenant, result)
	s.search.Invalidate(tenant.ID)
	if notifyRun {
		if nerr := s.notifier.RunFinished(ctx, tenant, result, err); nerr != nil {
			logutil.GetLogger(ctx).Warn("run notification failed",
				zap.String("tenant_id", tenant.ID), zap.Error(nerr))
		}
	}
	if err != nil {
		return result, fmt.Errorf("sync tenant %s: %w", tenant.ID, err)
	}
	return result, nil
}

func (s *SyncService) record(ctx context.Context, tenant model.Tenant, result *model.SyncResult) {
	if result == nil {
		return
	}
	logger := logutil.GetLogger(ctx).With(zap.String("tenant_id", tenant.ID))
	if err := s.runs.Create(ctx, model.RunFromResult(result)); err != nil {
		logger.Warn("record sync run failed", zap.Error(err))
		return
	}
	if err := s.runs.Prune(ctx, tenant.ID, 0); err != nil {
		logger.Warn("prune run history failed", zap.Error(err))
	}
}

// recordingSyncer routes batch workers through the same bookkeeping as
// manual triggers.
type recordingSyncer struct {
	svc *SyncService
}

func (r recordingSyncer) Run(ctx context.Context, tenant model.Tenant) (*model.SyncResult, error) {
	return r.svc.runLocked(ctx, tenant, false)
}
