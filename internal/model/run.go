package model

// SyncRun is one row of per-tenant run history in the registry.
type SyncRun struct {
	ID         int64  `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	State      string `json:"state" db:"state"`
	Resumed    bool   `json:"resumed" db:"resumed"`
	Added      int    `json:"added" db:"added"`
	Updated    int    `json:"updated" db:"updated"`
	Removed    int    `json:"removed" db:"removed"`
	Unchanged  int    `json:"unchanged" db:"unchanged"`
	Embedded   int    `json:"embedded" db:"embedded"`
	Skipped    int    `json:"skipped" db:"skipped"`
	Error      string `json:"error,omitempty" db:"error"`
	StartedAt  int64  `json:"started_at" db:"started_at"`
	FinishedAt int64  `json:"finished_at" db:"finished_at"`
}

// RunFromResult flattens a pipeline result into its history row.
func RunFromResult(res *SyncResult) *SyncRun {
	return &SyncRun{
		TenantID:   res.TenantID,
		State:      string(res.State),
		Resumed:    res.Resumed,
		Added:      res.Added,
		Updated:    res.Updated,
		Removed:    res.Removed,
		Unchanged:  res.Unchanged,
		Embedded:   res.Embedded,
		Skipped:    res.Skipped,
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}
