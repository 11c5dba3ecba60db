package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/shintairiku/cohere-rag/internal/diff"
	"github.com/shintairiku/cohere-rag/internal/embed"
	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
	"github.com/shintairiku/cohere-rag/internal/source"
	"github.com/shintairiku/cohere-rag/internal/store"
)

// EmbedClient is the slice of the embedding client the pipeline consumes.
type EmbedClient interface {
	EmbedBatch(ctx context.Context, files []model.FileRecord) []embed.FileResult
	ModelName() string
}

type Config struct {
	// CheckpointEvery is the number of processed files between checkpoint
	// writes; it is also the embed batch size.
	CheckpointEvery int
	ListTimeout     time.Duration
	RunTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 5
	}
	return c
}

// Pipeline synchronizes one tenant's snapshot with its remote file tree:
// scan, diff, embed changed files in sorted order, checkpoint as it goes,
// finalize. A run interrupted between checkpoints resumes from the last one.
type Pipeline struct {
	source source.Source
	store  store.Store
	client EmbedClient
	cfg    Config
}

func New(src source.Source, st store.Store, client EmbedClient, cfg Config) *Pipeline {
	return &Pipeline{
		source: src,
		store:  st,
		client: client,
		cfg:    cfg.withDefaults(),
	}
}

// Run executes one sync for the tenant. The returned SyncResult is always
// non-nil and describes the run even when err is non-nil. Callers must hold
// the tenant's run guard; the pipeline itself does not reject concurrent
// runs.
func (p *Pipeline) Run(ctx context.Context, tenant model.Tenant) (*model.SyncResult, error) {
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	logger := logutil.GetLogger(ctx).With(
		zap.String("tenant_id", tenant.ID),
		zap.String("folder_ref", tenant.FolderRef))

	result := &model.SyncResult{
		TenantID:  tenant.ID,
		State:     model.SyncStateScanning,
		StartedAt: time.Now().UnixMilli(),
	}
	fail := func(err error) (*model.SyncResult, error) {
		result.State = model.SyncStateFailed
		result.Error = err.Error()
		result.FinishedAt = time.Now().UnixMilli()
		logger.Error("sync failed", zap.String("state", string(result.State)), zap.Error(err))
		return result, err
	}

	logger.Info("sync started")

	files, err := p.scan(ctx, tenant.FolderRef)
	if err != nil {
		return fail(err)
	}
	logger.Info("scan complete", zap.Int("files", len(files)))

	snap, firstSync, modelChanged, err := p.loadSnapshot(ctx, tenant.ID)
	if err != nil {
		return fail(err)
	}

	result.State = model.SyncStateDiffing
	digest := model.ListingDigest(files)

	cp, cpErr := p.store.LoadCheckpoint(ctx, tenant.ID)
	if cpErr != nil && !errs.IsNotFound(cpErr) {
		return fail(cpErr)
	}
	hadCheckpoint := cpErr == nil

	d := diff.Diff(files, storedView(snap))
	result.Added = len(d.Added)
	result.Updated = len(d.Updated)
	result.Removed = len(d.Removed)
	result.Unchanged = len(d.Unchanged)

	processed := map[string]bool{}
	var pending []model.FileRecord
	switch {
	case hadCheckpoint && cp.ModelID == p.client.ModelName() && cp.ListingDigest == digest:
		// valid resume: keep the checkpoint's view of what is done
		result.Resumed = true
		processed = cp.Processed
		if processed == nil {
			processed = map[string]bool{}
		}
		pending = filesByID(files, cp.Pending)
		logger.Info("resuming from checkpoint",
			zap.Int("processed", len(processed)), zap.Int("pending", len(pending)))
	case hadCheckpoint:
		// the listing or model moved on since the checkpoint was written
		if err := p.store.DeleteCheckpoint(ctx, tenant.ID); err != nil {
			return fail(err)
		}
		pending = d.Pending()
		logger.Info("checkpoint stale, running fresh diff")
	default:
		pending = d.Pending()
	}

	// removals need no embedding call
	for _, rec := range d.Removed {
		delete(snap.Records, rec.RemoteID)
		delete(snap.Skipped, rec.RemoteID)
	}

	logger.Info("diff complete",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("pending", len(pending)))

	// nothing to do and nothing on disk to clean up: leave the store
	// byte-identical and make zero embedding calls
	if !firstSync && !modelChanged && !hadCheckpoint && len(pending) == 0 && len(d.Removed) == 0 {
		result.State = model.SyncStateCompleted
		result.FinishedAt = time.Now().UnixMilli()
		logger.Info("sync complete, no changes")
		return result, nil
	}

	if len(pending) > 0 {
		if err := p.process(ctx, logger, tenant.ID, digest, snap, processed, pending, result); err != nil {
			return fail(err)
		}
	}

	result.State = model.SyncStateFinalizing
	snap.TenantID = tenant.ID
	snap.ModelID = p.client.ModelName()
	snap.Version++
	snap.LastSyncedAt = time.Now().UnixMilli()
	if err := p.store.Save(ctx, tenant.ID, snap); err != nil {
		return fail(err)
	}
	if err := p.store.DeleteCheckpoint(ctx, tenant.ID); err != nil {
		return fail(err)
	}

	result.State = model.SyncStateCompleted
	result.FinishedAt = time.Now().UnixMilli()
	logger.Info("sync complete",
		zap.Int("embedded", result.Embedded),
		zap.Int("skipped", result.Skipped),
		zap.Int64("version", snap.Version),
		zap.Duration("took", result.Duration()))
	return result, nil
}

func (p *Pipeline) scan(ctx context.Context, folderRef string) ([]model.FileRecord, error) {
	listCtx := ctx
	if p.cfg.ListTimeout > 0 {
		var cancel context.CancelFunc
		listCtx, cancel = context.WithTimeout(ctx, p.cfg.ListTimeout)
		defer cancel()
	}
	files, err := p.source.List(listCtx, folderRef)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return files, nil
}

// loadSnapshot returns the tenant's working snapshot. A missing snapshot
// means first sync; a model change keeps the version counter but drops every
// record so the whole tree re-embeds (mixed-dimension stores are forbidden).
func (p *Pipeline) loadSnapshot(ctx context.Context, tenantID string) (snap *model.Snapshot, firstSync bool, modelChanged bool, err error) {
	snap, err = p.store.Load(ctx, tenantID)
	if errs.IsNotFound(err) {
		return model.NewSnapshot(tenantID, p.client.ModelName()), true, false, nil
	}
	if err != nil {
		return nil, false, false, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Skipped == nil {
		snap.Skipped = make(map[string]model.SkippedFile)
	}
	if snap.ModelID != p.client.ModelName() {
		fresh := model.NewSnapshot(tenantID, p.client.ModelName())
		fresh.Version = snap.Version
		return fresh, false, true, nil
	}
	return snap, false, false, nil
}

// storedView merges live records and skipped files into the differ's stored
// map. Skipped files become vectorless pseudo-records carrying the metadata
// observed when they failed, so they re-enter processing only when that
// metadata changes.
func storedView(snap *model.Snapshot) map[string]model.EmbeddingRecord {
	stored := make(map[string]model.EmbeddingRecord, len(snap.Records)+len(snap.Skipped))
	for id, rec := range snap.Records {
		stored[id] = rec
	}
	for id, sk := range snap.Skipped {
		if _, ok := stored[id]; ok {
			continue
		}
		stored[id] = model.EmbeddingRecord{
			RemoteID:     sk.RemoteID,
			RelativePath: sk.RelativePath,
			ModifiedAt:   sk.ModifiedAt,
			SizeBytes:    sk.SizeBytes,
			ContentHash:  sk.ContentHash,
		}
	}
	return stored
}

func filesByID(files []model.FileRecord, ids []string) []model.FileRecord {
	byID := make(map[string]model.FileRecord, len(files))
	for _, f := range files {
		byID[f.RemoteID] = f
	}
	out := make([]model.FileRecord, 0, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

// process embeds pending files in checkpoint-interval batches. The interim
// snapshot is written before the checkpoint that marks its files processed,
// so a crash between the two writes re-embeds at most one interval instead
// of losing vectors.
func (p *Pipeline) process(ctx context.Context, logger *zap.Logger, tenantID, digest string,
	snap *model.Snapshot, processed map[string]bool, pending []model.FileRecord, result *model.SyncResult) error {

	result.State = model.SyncStateProcessing
	writeCheckpoint := func(remaining []model.FileRecord, failureReason string) error {
		ids := make([]string, 0, len(remaining))
		for _, f := range remaining {
			ids = append(ids, f.RemoteID)
		}
		cp := &model.Checkpoint{
			TenantID:      tenantID,
			ModelID:       p.client.ModelName(),
			ListingDigest: digest,
			Processed:     processed,
			Pending:       ids,
			FailureReason: failureReason,
			UpdatedAt:     time.Now().UnixMilli(),
		}
		return p.store.SaveCheckpoint(ctx, tenantID, cp)
	}

	if err := writeCheckpoint(pending, ""); err != nil {
		return err
	}

	for len(pending) > 0 {
		n := p.cfg.CheckpointEvery
		if n > len(pending) {
			n = len(pending)
		}
		chunk, rest := pending[:n], pending[n:]

		results := p.client.EmbedBatch(ctx, chunk)
		var aborted []model.FileRecord
		now := time.Now().UnixMilli()
		for _, res := range results {
			id := res.File.RemoteID
			switch {
			case res.Err == nil:
				snap.Records[id] = model.EmbeddingRecord{
					RemoteID:     id,
					RelativePath: res.File.RelativePath,
					Vector:       res.Vector,
					ModelID:      p.client.ModelName(),
					ModifiedAt:   res.File.ModifiedAt,
					SizeBytes:    res.File.SizeBytes,
					ContentHash:  res.File.ContentHash,
					CreatedAt:    now,
				}
				delete(snap.Skipped, id)
				processed[id] = true
				result.Embedded++
			case runAborted(ctx, res.Err):
				// never attempted, or cut off mid-retry by the run ending;
				// stays pending for the resumed run
				aborted = append(aborted, res.File)
			case errs.IsPermanent(res.Err):
				snap.Skipped[id] = model.SkippedFile{
					RemoteID:     id,
					RelativePath: res.File.RelativePath,
					ModifiedAt:   res.File.ModifiedAt,
					SizeBytes:    res.File.SizeBytes,
					ContentHash:  res.File.ContentHash,
					Reason:       res.Err.Error(),
					RecordedAt:   now,
				}
				delete(snap.Records, id)
				processed[id] = true
				result.Skipped++
				result.Failures = append(result.Failures, model.FileFailure{
					RemoteID: id, RelativePath: res.File.RelativePath,
					Permanent: true, Reason: res.Err.Error(),
				})
			default:
				// transient retries exhausted: done for this run, not
				// recorded, so the next fresh run picks the file up again
				processed[id] = true
				result.Failures = append(result.Failures, model.FileFailure{
					RemoteID: id, RelativePath: res.File.RelativePath,
					Permanent: false, Reason: res.Err.Error(),
				})
			}
		}

		if len(aborted) > 0 || ctx.Err() != nil {
			remaining := append(aborted, rest...)
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			return p.abort(flushCtx, logger, tenantID, digest, snap, processed, remaining, ctx.Err())
		}

		pending = rest
		result.State = model.SyncStateCheckpointing
		if err := p.store.Save(ctx, tenantID, snap); err != nil {
			return err
		}
		if err := writeCheckpoint(pending, ""); err != nil {
			return err
		}
		logger.Info("checkpoint written",
			zap.Int("processed", len(processed)), zap.Int("pending", len(pending)))
		result.State = model.SyncStateProcessing
	}
	return nil
}

// abort flushes the interim snapshot and a resumable checkpoint on a
// detached context, then reports the run as failed.
func (p *Pipeline) abort(ctx context.Context, logger *zap.Logger, tenantID, digest string,
	snap *model.Snapshot, processed map[string]bool, remaining []model.FileRecord, cause error) error {

	if cause == nil {
		cause = context.Canceled
	}
	ids := make([]string, 0, len(remaining))
	for _, f := range remaining {
		ids = append(ids, f.RemoteID)
	}
	if err := p.store.Save(ctx, tenantID, snap); err != nil {
		logger.Error("abort: interim snapshot flush failed", zap.Error(err))
	}
	cp := &model.Checkpoint{
		TenantID:      tenantID,
		ModelID:       p.client.ModelName(),
		ListingDigest: digest,
		Processed:     processed,
		Pending:       ids,
		FailureReason: cause.Error(),
		UpdatedAt:     time.Now().UnixMilli(),
	}
	if err := p.store.SaveCheckpoint(ctx, tenantID, cp); err != nil {
		logger.Error("abort: checkpoint flush failed", zap.Error(err))
	}
	logger.Warn("sync aborted, checkpoint retained",
		zap.Int("processed", len(processed)), zap.Int("pending", len(ids)), zap.Error(cause))
	return fmt.Errorf("sync aborted: %w", cause)
}

func runAborted(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
