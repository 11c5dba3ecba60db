package model

// FileRecord is one entry of a remote file listing. ModifiedAt is unix
// milliseconds; ContentHash is empty when the source cannot provide one.
type FileRecord struct {
	RemoteID     string `json:"remote_id"`
	RelativePath string `json:"relative_path"`
	ModifiedAt   int64  `json:"modified_at"`
	SizeBytes    int64  `json:"size_bytes"`
	ContentHash  string `json:"content_hash,omitempty"`
}
