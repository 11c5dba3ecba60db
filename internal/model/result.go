package model

import "time"

// SyncState names the pipeline states. Stored in run history and reports.
type SyncState string

const (
	SyncStateIdle          SyncState = "idle"
	SyncStateScanning      SyncState = "scanning"
	SyncStateDiffing       SyncState = "diffing"
	SyncStateProcessing    SyncState = "processing"
	SyncStateCheckpointing SyncState = "checkpointing"
	SyncStateFinalizing    SyncState = "finalizing"
	SyncStateCompleted     SyncState = "completed"
	SyncStateFailed        SyncState = "failed"
)

// FileFailure records one per-file embedding failure inside a run.
type FileFailure struct {
	RemoteID     string `json:"remote_id"`
	RelativePath string `json:"relative_path"`
	Permanent    bool   `json:"permanent"`
	Reason       string `json:"reason"`
}

// SyncResult summarizes one pipeline run for one tenant.
type SyncResult struct {
	TenantID   string        `json:"tenant_id"`
	State      SyncState     `json:"state"`
	Resumed    bool          `json:"resumed"`
	Added      int           `json:"added"`
	Updated    int           `json:"updated"`
	Removed    int           `json:"removed"`
	Unchanged  int           `json:"unchanged"`
	Embedded   int           `json:"embedded"`
	Skipped    int           `json:"skipped"`
	Failures   []FileFailure `json:"failures,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  int64         `json:"started_at"`
	FinishedAt int64         `json:"finished_at"`
}

func (r *SyncResult) Duration() time.Duration {
	return time.Duration(r.FinishedAt-r.StartedAt) * time.Millisecond
}

// TenantOutcome is one tenant's slot in a batch report.
type TenantOutcome struct {
	TenantID string      `json:"tenant_id"`
	Name     string      `json:"name,omitempty"`
	Rejected bool        `json:"rejected,omitempty"`
	Result   *SyncResult `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Report aggregates one batch run across tenants.
type Report struct {
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at"`
	Tenants    int             `json:"tenants"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Rejected   int             `json:"rejected"`
	Embedded   int             `json:"embedded"`
	Outcomes   []TenantOutcome `json:"outcomes"`
}
