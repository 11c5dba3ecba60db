package batch

import (
	"fmt"
	"sync"

	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

// RunGuard admits at most one in-flight sync per tenant across every trigger
// path (HTTP, cron, CLI batch). Acquire before starting a run and hold until
// the run returns; the pipeline itself does not reject concurrent runs.
type RunGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewRunGuard() *RunGuard {
	return &RunGuard{inflight: make(map[string]struct{})}
}

// TryAcquire claims the tenant's run slot. It never blocks; a second caller
// gets ErrRunInFlight until Release.
func (g *RunGuard) TryAcquire(tenantID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[tenantID]; ok {
		return fmt.Errorf("%w: tenant %s", errs.ErrRunInFlight, tenantID)
	}
	g.inflight[tenantID] = struct{}{}
	return nil
}

func (g *RunGuard) Release(tenantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, tenantID)
}

// Running reports whether the tenant currently holds a run slot.
func (g *RunGuard) Running(tenantID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[tenantID]
	return ok
}
