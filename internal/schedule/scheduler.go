package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is one schedulable unit of work. Run owns its own error handling; a
// returned error is logged, never retried by the scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler drives the nightly auto-sync. A slow run that overlaps its
// next tick is skipped, never queued; the batch itself already guards each
// tenant.
type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		logutil.GetLogger(context.Background()).Error("schedule job failed",
			zap.String("job", name), zap.String("spec", spec), zap.Error(err))
		return err
	}
	c.entries[name] = entryID
	return nil
}

// Start begins ticking. ctx is handed to every job run; cancel it before
// Stop to interrupt an in-flight run instead of waiting it out.
func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
	for name, id := range c.entries {
		logutil.GetLogger(ctx).Info("job scheduled",
			zap.String("job", name),
			zap.Time("first_run", c.cron.Entry(id).Next),
		)
	}
}

// Stop blocks until running jobs drain.
func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("scheduler stopped")
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		logger := logutil.GetLogger(ctx).With(
			zap.String("job", job.Name()),
			zap.String("spec", spec),
		)
		if !running.CompareAndSwap(false, true) {
			logger.Warn("job skipped, previous run still in flight")
			return
		}
		defer running.Store(false)

		start := time.Now()
		logger.Info("job started")
		if err := job.Run(ctx); err != nil {
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		logger.Info("job finished", zap.Duration("duration", time.Since(start)))
	}
}
