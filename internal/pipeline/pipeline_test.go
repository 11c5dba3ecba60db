package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shintairiku/cohere-rag/internal/config"
	"github.com/shintairiku/cohere-rag/internal/embed"
	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
	"github.com/shintairiku/cohere-rag/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	files []model.FileRecord
	err   error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) List(ctx context.Context, folderRef string) ([]model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.FileRecord, len(s.files))
	copy(out, s.files)
	return out, nil
}

func (s *fakeSource) Open(ctx context.Context, file model.FileRecord) ([]byte, error) {
	return []byte(file.RemoteID), nil
}

func (s *fakeSource) Ping(ctx context.Context) error { return s.err }

func (s *fakeSource) set(files []model.FileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
}

// faultRouter lets a test swap the injected fault between runs and counts
// every attempted provider call.
type faultRouter struct {
	mu       sync.Mutex
	fn       embed.FaultFunc
	attempts int32
}

func (r *faultRouter) route(file model.FileRecord, attempt int) error {
	atomic.AddInt32(&r.attempts, 1)
	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(file, attempt)
}

func (r *faultRouter) set(fn embed.FaultFunc) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

func (r *faultRouter) reset() int32 {
	r.set(nil)
	return atomic.SwapInt32(&r.attempts, 0)
}

type recordingStore struct {
	store.Store
	mu     sync.Mutex
	events []string
}

func (s *recordingStore) log(event string) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingStore) Save(ctx context.Context, tenantID string, snap *model.Snapshot) error {
	s.log("save")
	return s.Store.Save(ctx, tenantID, snap)
}

func (s *recordingStore) SaveCheckpoint(ctx context.Context, tenantID string, cp *model.Checkpoint) error {
	s.log("checkpoint")
	return s.Store.SaveCheckpoint(ctx, tenantID, cp)
}

func (s *recordingStore) DeleteCheckpoint(ctx context.Context, tenantID string) error {
	s.log("delete_checkpoint")
	return s.Store.DeleteCheckpoint(ctx, tenantID)
}

type pipeEnv struct {
	pipeline *Pipeline
	store    store.Store
	source   *fakeSource
	fault    *faultRouter
	tenant   model.Tenant
}

func newEnv(t *testing.T, modelID string, checkpointEvery int) *pipeEnv {
	t.Helper()
	st, err := store.New(config.StoreConfig{
		Type: "file",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)
	return newEnvWithStore(t, st, modelID, checkpointEvery)
}

func newEnvWithStore(t *testing.T, st store.Store, modelID string, checkpointEvery int) *pipeEnv {
	t.Helper()
	src := &fakeSource{}
	fault := &faultRouter{}
	client := embed.New(
		embed.NewEmbedder(embed.NewStubProvider(8), modelID),
		time.Second,
		embed.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		embed.WithFaultFunc(fault.route),
	)
	p := New(src, st, client, Config{CheckpointEvery: checkpointEvery})
	return &pipeEnv{
		pipeline: p,
		store:    st,
		source:   src,
		fault:    fault,
		tenant:   model.Tenant{ID: "tenant-1", Name: "acme", FolderRef: "catalog"},
	}
}

func rec(id string, mtime, size int64) model.FileRecord {
	return model.FileRecord{
		RemoteID:     id,
		RelativePath: id + ".jpg",
		ModifiedAt:   mtime,
		SizeBytes:    size,
	}
}

func listing(n int) []model.FileRecord {
	files := make([]model.FileRecord, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, rec(fmt.Sprintf("f%02d", i), 1000, 10))
	}
	return files
}

func TestRun_InitialSync(t *testing.T) {
	env := newEnv(t, "m1", 2)
	env.source.set(listing(3))
	ctx := context.Background()

	result, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Equal(t, model.SyncStateCompleted, result.State)
	require.Equal(t, 3, result.Added)
	require.Equal(t, 3, result.Embedded)
	require.Zero(t, result.Skipped)
	require.False(t, result.Resumed)

	snap, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Len(t, snap.Records, 3)
	require.Equal(t, int64(1), snap.Version)
	require.Equal(t, "m1", snap.ModelID)
	require.NotZero(t, snap.LastSyncedAt)
	for _, r := range snap.Records {
		require.Len(t, r.Vector, 8)
	}

	_, err = env.store.LoadCheckpoint(ctx, env.tenant.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRun_SecondRunWithoutChangesMakesZeroCalls(t *testing.T) {
	env := newEnv(t, "m1", 2)
	env.source.set(listing(4))
	ctx := context.Background()

	_, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	first, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	env.fault.reset()

	result, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Equal(t, model.SyncStateCompleted, result.State)
	require.Equal(t, 4, result.Unchanged)
	require.Zero(t, result.Embedded)
	require.Zero(t, env.fault.reset(), "no-change run must not call the provider")

	second, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Equal(t, first, second, "no-change run must leave the snapshot untouched")
}

func TestRun_AddedUpdatedRemoved(t *testing.T) {
	env := newEnv(t, "m1", 3)
	env.source.set([]model.FileRecord{
		rec("f1", 1000, 10),
		rec("f2", 1000, 10),
		rec("f3", 1000, 10),
	})
	ctx := context.Background()

	_, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	env.fault.reset()

	env.source.set([]model.FileRecord{
		rec("f1", 1000, 10), // unchanged
		rec("f2", 2000, 10), // mtime moved
		rec("f4", 1000, 10), // new; f3 gone
	})

	result, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 1, result.Updated)
	require.Equal(t, 1, result.Removed)
	require.Equal(t, 1, result.Unchanged)
	require.Equal(t, 2, result.Embedded)
	require.Equal(t, int32(2), env.fault.reset(), "only changed files may be embedded")

	snap, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Len(t, snap.Records, 3)
	require.Contains(t, snap.Records, "f1")
	require.Contains(t, snap.Records, "f2")
	require.Contains(t, snap.Records, "f4")
	require.NotContains(t, snap.Records, "f3")
	require.Equal(t, int64(2000), snap.Records["f2"].ModifiedAt)
	require.Equal(t, int64(2), snap.Version)
}

func TestRun_PermanentFailureIsSkippedAndNotRetried(t *testing.T) {
	env := newEnv(t, "m1", 5)
	env.source.set(listing(5))
	env.fault.set(func(f model.FileRecord, attempt int) error {
		if f.RemoteID == "f01" {
			return fmt.Errorf("%w: corrupt payload", errs.ErrEmbedPermanent)
		}
		return nil
	})
	ctx := context.Background()

	result, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err, "per-file permanent failure must not fail the run")
	require.Equal(t, model.SyncStateCompleted, result.State)
	require.Equal(t, 4, result.Embedded)
	require.Equal(t, 1, result.Skipped)
	require.Len(t, result.Failures, 1)
	require.True(t, result.Failures[0].Permanent)
	require.Equal(t, "f01", result.Failures[0].RemoteID)

	snap, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Len(t, snap.Records, 4)
	require.NotContains(t, snap.Records, "f01")
	require.Contains(t, snap.Skipped, "f01")
	_, err = env.store.LoadCheckpoint(ctx, env.tenant.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// same metadata: the skip holds, zero provider calls
	env.fault.reset()
	result, err = env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Zero(t, result.Embedded)
	require.Zero(t, env.fault.reset())

	// metadata change lifts the skip
	files := listing(5)
	files[1] = rec("f01", 3000, 12)
	env.source.set(files)
	env.fault.reset()
	result, err = env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Equal(t, 1, result.Embedded)

	snap, err = env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Contains(t, snap.Records, "f01")
	require.Empty(t, snap.Skipped)
}

func TestRun_TransientExhaustionRetriedOnNextRun(t *testing.T) {
	env := newEnv(t, "m1", 5)
	env.source.set(listing(3))
	env.fault.set(func(f model.FileRecord, attempt int) error {
		if f.RemoteID == "f01" {
			return fmt.Errorf("%w: overloaded", errs.ErrEmbedTransient)
		}
		return nil
	})
	ctx := context.Background()

	result, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Equal(t, model.SyncStateCompleted, result.State)
	require.Equal(t, 2, result.Embedded)
	require.Zero(t, result.Skipped, "transient exhaustion is not recorded as known-bad")
	require.Len(t, result.Failures, 1)
	require.False(t, result.Failures[0].Permanent)

	snap, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.NotContains(t, snap.Records, "f01")
	require.NotContains(t, snap.Skipped, "f01")

	// next run picks the file up again
	env.fault.reset()
	result, err = env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Equal(t, 1, result.Embedded)
	snap, err = env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Contains(t, snap.Records, "f01")
}

func TestRun_ResumeAfterInterruptionMatchesUninterrupted(t *testing.T) {
	const total = 7
	baseline := newEnv(t, "m1", 2)
	baseline.source.set(listing(total))
	baseResult, err := baseline.pipeline.Run(context.Background(), baseline.tenant)
	require.NoError(t, err)
	require.Equal(t, total, baseResult.Embedded)
	baseSnap, err := baseline.store.Load(context.Background(), baseline.tenant.ID)
	require.NoError(t, err)

	for k := 1; k < total; k++ {
		t.Run(fmt.Sprintf("interrupt_after_%d", k), func(t *testing.T) {
			env := newEnv(t, "m1", 2)
			env.source.set(listing(total))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var embedded int32
			env.fault.set(func(f model.FileRecord, attempt int) error {
				if int(atomic.AddInt32(&embedded, 1)) > k {
					cancel()
					return context.Canceled
				}
				return nil
			})

			_, err := env.pipeline.Run(ctx, env.tenant)
			require.Error(t, err, "interrupted run must report failure")

			cp, err := env.store.LoadCheckpoint(context.Background(), env.tenant.ID)
			require.NoError(t, err, "interrupted run must leave a checkpoint")
			require.NotEmpty(t, cp.Pending)

			env.fault.reset()
			result, err := env.pipeline.Run(context.Background(), env.tenant)
			require.NoError(t, err)
			require.True(t, result.Resumed)
			require.Equal(t, int32(total-k), env.fault.reset(),
				"resume must only embed the files the first run did not finish")

			snap, err := env.store.Load(context.Background(), env.tenant.ID)
			require.NoError(t, err)
			require.Equal(t, baseSnap.Version, snap.Version)
			require.Len(t, snap.Records, total)
			for id, want := range baseSnap.Records {
				got, ok := snap.Records[id]
				require.True(t, ok, "missing record %s", id)
				require.Equal(t, want.Vector, got.Vector)
				require.Equal(t, want.ModifiedAt, got.ModifiedAt)
				require.Equal(t, want.SizeBytes, got.SizeBytes)
				require.Equal(t, want.ModelID, got.ModelID)
			}
			_, err = env.store.LoadCheckpoint(context.Background(), env.tenant.ID)
			require.ErrorIs(t, err, errs.ErrNotFound)
		})
	}
}

func TestRun_ListingChangeInvalidatesCheckpoint(t *testing.T) {
	env := newEnv(t, "m1", 2)
	env.source.set(listing(6))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var embedded int32
	env.fault.set(func(f model.FileRecord, attempt int) error {
		if int(atomic.AddInt32(&embedded, 1)) > 3 {
			cancel()
			return context.Canceled
		}
		return nil
	})
	_, err := env.pipeline.Run(ctx, env.tenant)
	require.Error(t, err)

	// the tree changes while the run is parked
	files := append(listing(6), rec("f99", 1000, 10))
	env.source.set(files)
	env.fault.reset()

	result, err := env.pipeline.Run(context.Background(), env.tenant)
	require.NoError(t, err)
	require.False(t, result.Resumed, "digest mismatch must force a fresh diff")

	snap, err := env.store.Load(context.Background(), env.tenant.ID)
	require.NoError(t, err)
	require.Len(t, snap.Records, 7)
	_, err = env.store.LoadCheckpoint(context.Background(), env.tenant.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRun_ScanFailureWritesNothing(t *testing.T) {
	env := newEnv(t, "m1", 2)
	env.source.err = fmt.Errorf("%w: bucket gone", errs.ErrSourceUnreachable)
	ctx := context.Background()

	result, err := env.pipeline.Run(ctx, env.tenant)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrSourceUnreachable)
	require.Equal(t, model.SyncStateFailed, result.State)

	_, loadErr := env.store.Load(ctx, env.tenant.ID)
	require.ErrorIs(t, loadErr, errs.ErrNotFound)
	_, cpErr := env.store.LoadCheckpoint(ctx, env.tenant.ID)
	require.ErrorIs(t, cpErr, errs.ErrNotFound)
}

func TestRun_ScanFailureKeepsExistingSnapshot(t *testing.T) {
	env := newEnv(t, "m1", 2)
	env.source.set(listing(2))
	ctx := context.Background()

	_, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	before, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)

	env.source.err = fmt.Errorf("%w: permission revoked", errs.ErrPermissionDenied)
	_, err = env.pipeline.Run(ctx, env.tenant)
	require.ErrorIs(t, err, errs.ErrPermissionDenied)

	after, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRun_ModelChangeForcesFullResync(t *testing.T) {
	st, err := store.New(config.StoreConfig{
		Type: "file",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	envA := newEnvWithStore(t, st, "model-a", 3)
	envA.source.set(listing(3))
	ctx := context.Background()
	_, err = envA.pipeline.Run(ctx, envA.tenant)
	require.NoError(t, err)

	envB := newEnvWithStore(t, st, "model-b", 3)
	envB.source.set(listing(3))
	result, err := envB.pipeline.Run(ctx, envB.tenant)
	require.NoError(t, err)
	require.Equal(t, 3, result.Embedded, "model change must re-embed everything")
	require.Equal(t, int32(3), envB.fault.reset())

	snap, err := st.Load(ctx, envB.tenant.ID)
	require.NoError(t, err)
	require.Equal(t, "model-b", snap.ModelID)
	require.Equal(t, int64(2), snap.Version, "version keeps counting across model generations")
	for _, r := range snap.Records {
		require.Equal(t, "model-b", r.ModelID)
	}
}

func TestRun_FirstSyncOfEmptyFolder(t *testing.T) {
	env := newEnv(t, "m1", 2)
	env.source.set(nil)
	ctx := context.Background()

	result, err := env.pipeline.Run(ctx, env.tenant)
	require.NoError(t, err)
	require.Equal(t, model.SyncStateCompleted, result.State)

	// synced-but-empty is distinguishable from never-synced
	snap, err := env.store.Load(ctx, env.tenant.ID)
	require.NoError(t, err)
	require.Empty(t, snap.Records)
	require.Equal(t, int64(1), snap.Version)
}

func TestRun_CheckpointIntervalAndWriteOrder(t *testing.T) {
	inner, err := store.New(config.StoreConfig{
		Type: "file",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)
	recording := &recordingStore{Store: inner}

	env := newEnvWithStore(t, recording, "m1", 2)
	env.source.set(listing(5))

	_, err = env.pipeline.Run(context.Background(), env.tenant)
	require.NoError(t, err)

	// initial checkpoint, then snapshot-before-checkpoint per interval,
	// then the finalize save and checkpoint removal
	want := []string{
		"checkpoint",
		"save", "checkpoint",
		"save", "checkpoint",
		"save", "checkpoint",
		"save",
		"delete_checkpoint",
	}
	require.Equal(t, want, recording.events)
}
