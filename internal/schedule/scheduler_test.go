package schedule

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type blockingJob struct {
	mu      sync.Mutex
	started int
	entered chan struct{}
	release chan struct{}
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.started++
	j.mu.Unlock()
	j.entered <- struct{}{}
	<-j.release
	return nil
}

func (j *blockingJob) startedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

func TestAddJob_RejectsBadSpec(t *testing.T) {
	s := NewCronScheduler()
	j := &blockingJob{entered: make(chan struct{}, 1), release: make(chan struct{})}
	require.Error(t, s.AddJob(j, "not a cron spec"))
	require.NoError(t, s.AddJob(j, "0 3 * * *"))
}

func TestWrap_SkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	j := &blockingJob{entered: make(chan struct{}, 1), release: make(chan struct{})}
	tick := s.wrap(j, "* * * * *")

	done := make(chan struct{})
	go func() {
		tick()
		close(done)
	}()
	<-j.entered

	// second tick while the first still runs must be a no-op
	tick()
	require.Equal(t, 1, j.startedCount())

	close(j.release)
	<-done

	// a later tick runs again once the slot is free
	j.release = make(chan struct{})
	done2 := make(chan struct{})
	go func() {
		tick()
		close(done2)
	}()
	<-j.entered
	close(j.release)
	<-done2
	require.Equal(t, 2, j.startedCount())
}
