package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/shintairiku/cohere-rag/internal/model"
)

var runFields = []string{
	"id", "tenant_id", "state", "resumed",
	"added", "updated", "removed", "unchanged", "embedded", "skipped",
	"error", "started_at", "finished_at",
}

// keep this many history rows per tenant
const defaultRunsKept = 50

type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	data := map[string]interface{}{
		"tenant_id":   run.TenantID,
		"state":       run.State,
		"resumed":     run.Resumed,
		"added":       run.Added,
		"updated":     run.Updated,
		"removed":     run.Removed,
		"unchanged":   run.Unchanged,
		"embedded":    run.Embedded,
		"skipped":     run.Skipped,
		"error":       run.Error,
		"started_at":  run.StartedAt,
		"finished_at": run.FinishedAt,
	}
	sqlStr, args, err := builder.BuildInsert("sync_runs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

// ListByTenant returns the tenant's most recent runs, newest first.
func (r *RunRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.SyncRun, error) {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"_orderby":  "started_at desc, id desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect("sync_runs", where, runFields)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := make([]model.SyncRun, 0)
	for rows.Next() {
		var run model.SyncRun
		if err := rows.Scan(&run.ID, &run.TenantID, &run.State, &run.Resumed,
			&run.Added, &run.Updated, &run.Removed, &run.Unchanged, &run.Embedded, &run.Skipped,
			&run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const pruneRunsSQL = `
DELETE FROM sync_runs
WHERE tenant_id = ?
  AND id NOT IN (
    SELECT id FROM sync_runs
    WHERE tenant_id = ?
    ORDER BY started_at DESC, id DESC
    LIMIT ?
  )`

// Prune drops history beyond the newest keep rows. keep <= 0 uses the
// default retention.
func (r *RunRepo) Prune(ctx context.Context, tenantID string, keep int) error {
	if keep <= 0 {
		keep = defaultRunsKept
	}
	_, err := r.db.ExecContext(ctx, pruneRunsSQL, tenantID, tenantID, keep)
	return err
}

func (r *RunRepo) DeleteByTenant(ctx context.Context, tenantID string) error {
	sqlStr, args, err := builder.BuildDelete("sync_runs", map[string]interface{}{"tenant_id": tenantID})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
