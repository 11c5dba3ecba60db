package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shintairiku/cohere-rag/internal/model"
)

// Syncer runs one tenant sync end to end. Implemented by pipeline.Pipeline.
type Syncer interface {
	Run(ctx context.Context, tenant model.Tenant) (*model.SyncResult, error)
}

// ProgressFunc is invoked after each tenant finishes, with the number of
// tenants done so far. Called from worker goroutines; implementations must be
// safe for concurrent use.
type ProgressFunc func(done, total int, outcome model.TenantOutcome)

// Runner fans one sync run out across many tenants with a bounded worker
// pool. One tenant's failure never cancels the others; tenants already
// running elsewhere are rejected by the shared guard and reported as such.
type Runner struct {
	syncer      Syncer
	guard       *RunGuard
	maxParallel int
	reportDir   string
	progress    ProgressFunc
}

type Option func(*Runner)

// WithReportDir persists each batch report as JSON under dir.
func WithReportDir(dir string) Option {
	return func(r *Runner) { r.reportDir = dir }
}

func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

func NewRunner(syncer Syncer, guard *RunGuard, maxParallel int, opts ...Option) *Runner {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	r := &Runner{
		syncer:      syncer,
		guard:       guard,
		maxParallel: maxParallel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll syncs every tenant and aggregates the outcomes into a report. The
// report is always non-nil and covers every tenant, including rejected ones.
func (r *Runner) RunAll(ctx context.Context, tenants []model.Tenant) (*model.Report, error) {
	logger := logutil.GetLogger(ctx).With(zap.Int("tenants", len(tenants)))
	logger.Info("batch sync started", zap.Int("max_parallel", r.maxParallel))

	report := &model.Report{
		StartedAt: time.Now().UnixMilli(),
		Tenants:   len(tenants),
		Outcomes:  make([]model.TenantOutcome, len(tenants)),
	}

	var done int32
	var eg errgroup.Group
	eg.SetLimit(r.maxParallel)
	for i, tenant := range tenants {
		eg.Go(func() error {
			outcome := r.runOne(ctx, tenant)
			report.Outcomes[i] = outcome
			if r.progress != nil {
				r.progress(int(atomic.AddInt32(&done, 1)), len(tenants), outcome)
			}
			return nil
		})
	}
	_ = eg.Wait()

	report.FinishedAt = time.Now().UnixMilli()
	for _, outcome := range report.Outcomes {
		switch {
		case outcome.Rejected:
			report.Rejected++
		case outcome.Error != "":
			report.Failed++
		default:
			report.Succeeded++
		}
		if outcome.Result != nil {
			report.Embedded += outcome.Result.Embedded
		}
	}

	if r.reportDir != "" {
		path, err := writeReport(r.reportDir, report)
		if err != nil {
			logger.Warn("persist batch report failed", zap.Error(err))
		} else {
			logger.Info("batch report written", zap.String("path", path))
		}
	}

	logger.Info("batch sync finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("rejected", report.Rejected),
		zap.Int("embedded", report.Embedded))
	return report, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, tenant model.Tenant) model.TenantOutcome {
	outcome := model.TenantOutcome{TenantID: tenant.ID, Name: tenant.Name}
	if err := r.guard.TryAcquire(tenant.ID); err != nil {
		outcome.Rejected = true
		outcome.Error = err.Error()
		return outcome
	}
	defer r.guard.Release(tenant.ID)

	result, err := r.syncer.Run(ctx, tenant)
	outcome.Result = result
	if err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}
