package model

// Snapshot is the full persisted embedding state of one tenant. It is read at
// sync start, mutated in memory, and written back atomically by the store.
type Snapshot struct {
	TenantID     string                     `json:"tenant_id"`
	ModelID      string                     `json:"model_id"`
	Version      int64                      `json:"version"`
	LastSyncedAt int64                      `json:"last_synced_at"`
	Records      map[string]EmbeddingRecord `json:"records"`
	Skipped      map[string]SkippedFile     `json:"skipped,omitempty"`
}

func NewSnapshot(tenantID, modelID string) *Snapshot {
	return &Snapshot{
		TenantID: tenantID,
		ModelID:  modelID,
		Records:  make(map[string]EmbeddingRecord),
		Skipped:  make(map[string]SkippedFile),
	}
}

// Dimension returns the vector dimensionality of the snapshot, 0 when empty.
// Dimensionality is constant within one store generation.
func (s *Snapshot) Dimension() int {
	for _, rec := range s.Records {
		return len(rec.Vector)
	}
	return 0
}

func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		TenantID:     s.TenantID,
		ModelID:      s.ModelID,
		Version:      s.Version,
		LastSyncedAt: s.LastSyncedAt,
		Records:      make(map[string]EmbeddingRecord, len(s.Records)),
		Skipped:      make(map[string]SkippedFile, len(s.Skipped)),
	}
	for id, rec := range s.Records {
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		rec.Vector = vec
		clone.Records[id] = rec
	}
	for id, sk := range s.Skipped {
		clone.Skipped[id] = sk
	}
	return clone
}

// BackupInfo identifies one retained snapshot backup.
type BackupInfo struct {
	TenantID  string `json:"tenant_id"`
	Version   int64  `json:"version"`
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"`
}
