package job

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/shintairiku/cohere-rag/internal/batch"
	"github.com/shintairiku/cohere-rag/internal/model"
)

// BatchRunner is the slice of the sync service the job needs.
type BatchRunner interface {
	RunBatch(ctx context.Context, progress batch.ProgressFunc) (*model.Report, error)
}

// AutoSyncJob runs the nightly batch over every auto-sync tenant.
type AutoSyncJob struct {
	sync BatchRunner
}

func NewAutoSyncJob(sync BatchRunner) *AutoSyncJob {
	return &AutoSyncJob{sync: sync}
}

func (j *AutoSyncJob) Name() string {
	return "auto_sync"
}

func (j *AutoSyncJob) Run(ctx context.Context) error {
	report, err := j.sync.RunBatch(ctx, nil)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("auto sync batch finished",
		zap.Int("tenants", report.Tenants),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("rejected", report.Rejected),
		zap.Int("embedded", report.Embedded),
	)
	if report.Failed > 0 {
		return fmt.Errorf("auto sync: %d of %d tenants failed", report.Failed, report.Tenants)
	}
	return nil
}
