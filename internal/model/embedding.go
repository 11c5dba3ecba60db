package model

type EmbeddingRecord struct {
	RemoteID     string    `json:"remote_id"`
	RelativePath string    `json:"relative_path"`
	Vector       []float32 `json:"vector"`
	ModelID      string    `json:"model_id"`
	ModifiedAt   int64     `json:"modified_at"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentHash  string    `json:"content_hash,omitempty"`
	CreatedAt    int64     `json:"created_at"`
}

// SkippedFile marks a file whose embedding failed permanently. It stays in
// the snapshot so the file is not retried until its remote metadata changes.
type SkippedFile struct {
	RemoteID     string `json:"remote_id"`
	RelativePath string `json:"relative_path"`
	ModifiedAt   int64  `json:"modified_at"`
	SizeBytes    int64  `json:"size_bytes"`
	ContentHash  string `json:"content_hash,omitempty"`
	Reason       string `json:"reason"`
	RecordedAt   int64  `json:"recorded_at"`
}
