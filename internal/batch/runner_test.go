package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

type fakeSyncer struct {
	mu      sync.Mutex
	runs    []string
	active  int32
	max     int32
	entered chan string
	release chan struct{}
	fail    map[string]error
}

func (s *fakeSyncer) Run(ctx context.Context, tenant model.Tenant) (*model.SyncResult, error) {
	active := atomic.AddInt32(&s.active, 1)
	for {
		max := atomic.LoadInt32(&s.max)
		if active <= max || atomic.CompareAndSwapInt32(&s.max, max, active) {
			break
		}
	}
	defer atomic.AddInt32(&s.active, -1)

	s.mu.Lock()
	s.runs = append(s.runs, tenant.ID)
	s.mu.Unlock()

	if s.entered != nil {
		s.entered <- tenant.ID
		<-s.release
	}

	if err := s.fail[tenant.ID]; err != nil {
		return &model.SyncResult{TenantID: tenant.ID, State: model.SyncStateFailed, Error: err.Error()}, err
	}
	return &model.SyncResult{TenantID: tenant.ID, State: model.SyncStateCompleted, Embedded: 2}, nil
}

func (s *fakeSyncer) ranTenants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.runs))
	copy(out, s.runs)
	return out
}

func tenants(n int) []model.Tenant {
	out := make([]model.Tenant, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%02d", i)
		out = append(out, model.Tenant{ID: id, Name: "tenant " + id, FolderRef: "folder-" + id})
	}
	return out
}

func TestRunGuard_SecondAcquireRejected(t *testing.T) {
	g := NewRunGuard()
	require.NoError(t, g.TryAcquire("t1"))
	err := g.TryAcquire("t1")
	require.ErrorIs(t, err, errs.ErrRunInFlight)
	require.True(t, g.Running("t1"))

	g.Release("t1")
	require.False(t, g.Running("t1"))
	require.NoError(t, g.TryAcquire("t1"))
}

func TestRunGuard_TenantsAreIndependent(t *testing.T) {
	g := NewRunGuard()
	require.NoError(t, g.TryAcquire("t1"))
	require.NoError(t, g.TryAcquire("t2"))
	g.Release("t1")
	require.NoError(t, g.TryAcquire("t1"))
	require.ErrorIs(t, g.TryAcquire("t2"), errs.ErrRunInFlight)
}

func TestRunAll_AllSucceed(t *testing.T) {
	syncer := &fakeSyncer{}
	runner := NewRunner(syncer, NewRunGuard(), 3)

	report, err := runner.RunAll(context.Background(), tenants(5))
	require.NoError(t, err)
	require.Equal(t, 5, report.Tenants)
	require.Equal(t, 5, report.Succeeded)
	require.Zero(t, report.Failed)
	require.Zero(t, report.Rejected)
	require.Equal(t, 10, report.Embedded)
	require.Len(t, report.Outcomes, 5)
	// outcome order follows the input order regardless of completion order
	for i, outcome := range report.Outcomes {
		require.Equal(t, fmt.Sprintf("t%02d", i), outcome.TenantID)
		require.NotNil(t, outcome.Result)
	}
}

func TestRunAll_BoundedParallelism(t *testing.T) {
	syncer := &fakeSyncer{
		entered: make(chan string, 8),
		release: make(chan struct{}),
	}
	runner := NewRunner(syncer, NewRunGuard(), 2)

	done := make(chan *model.Report, 1)
	go func() {
		report, _ := runner.RunAll(context.Background(), tenants(8))
		done <- report
	}()

	// two workers enter and park; the limit keeps everyone else out
	for i := 0; i < 2; i++ {
		select {
		case <-syncer.entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker %d never started", i)
		}
	}
	close(syncer.release)

	var report *model.Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("batch did not finish")
	}
	require.Equal(t, 8, report.Succeeded)
	require.Equal(t, int32(2), atomic.LoadInt32(&syncer.max), "worker pool must hold the parallelism limit")
}

func TestRunAll_OneFailureDoesNotCancelOthers(t *testing.T) {
	syncer := &fakeSyncer{fail: map[string]error{
		"t01": fmt.Errorf("%w: listing timed out", errs.ErrSourceUnreachable),
	}}
	runner := NewRunner(syncer, NewRunGuard(), 2)

	report, err := runner.RunAll(context.Background(), tenants(3))
	require.NoError(t, err, "tenant failures stay inside the report")
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 1, report.Failed)
	require.Contains(t, report.Outcomes[1].Error, "listing timed out")
	require.Len(t, syncer.ranTenants(), 3)
}

func TestRunAll_GuardRejectionIsReportedNotFailed(t *testing.T) {
	guard := NewRunGuard()
	require.NoError(t, guard.TryAcquire("t01")) // a manual trigger holds the slot
	syncer := &fakeSyncer{}
	runner := NewRunner(syncer, guard, 2)

	report, err := runner.RunAll(context.Background(), tenants(3))
	require.NoError(t, err)
	require.Equal(t, 2, report.Succeeded)
	require.Zero(t, report.Failed)
	require.Equal(t, 1, report.Rejected)
	require.True(t, report.Outcomes[1].Rejected)
	require.NotContains(t, syncer.ranTenants(), "t01", "rejected tenant must not reach the pipeline")
}

func TestRunAll_OverlappingBatchesDoNotInterleaveTenants(t *testing.T) {
	guard := NewRunGuard()
	parked := &fakeSyncer{
		entered: make(chan string, 2),
		release: make(chan struct{}),
	}
	first := NewRunner(parked, guard, 2)

	firstDone := make(chan *model.Report, 1)
	go func() {
		report, _ := first.RunAll(context.Background(), tenants(2))
		firstDone <- report
	}()
	for i := 0; i < 2; i++ {
		select {
		case <-parked.entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("first batch worker %d never started", i)
		}
	}

	// second batch over the same tenants while the first still runs
	second := NewRunner(&fakeSyncer{}, guard, 2)
	report, err := second.RunAll(context.Background(), tenants(2))
	require.NoError(t, err)
	require.Equal(t, 2, report.Rejected)
	require.Zero(t, report.Succeeded)

	close(parked.release)
	select {
	case report = <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("first batch did not finish")
	}
	require.Equal(t, 2, report.Succeeded)
}

func TestRunAll_ProgressHook(t *testing.T) {
	syncer := &fakeSyncer{}
	var mu sync.Mutex
	var seen []int
	var totals []int
	runner := NewRunner(syncer, NewRunGuard(), 2, WithProgress(func(done, total int, outcome model.TenantOutcome) {
		mu.Lock()
		seen = append(seen, done)
		totals = append(totals, total)
		mu.Unlock()
	}))

	_, err := runner.RunAll(context.Background(), tenants(4))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	sort.Ints(seen)
	require.Equal(t, []int{1, 2, 3, 4}, seen)
	for _, total := range totals {
		require.Equal(t, 4, total)
	}
}

func TestRunAll_WritesReportFile(t *testing.T) {
	dir := t.TempDir()
	syncer := &fakeSyncer{fail: map[string]error{"t02": fmt.Errorf("boom")}}
	runner := NewRunner(syncer, NewRunGuard(), 2, WithReportDir(dir))

	_, err := runner.RunAll(context.Background(), tenants(3))
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "batch_update_results_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var report model.Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Equal(t, 3, report.Tenants)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Outcomes, 3)
}
