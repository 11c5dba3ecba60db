package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Checkpoint is the durable marker of partial sync progress. It is created
// when processing starts, rewritten after every checkpoint interval, and
// deleted on successful completion. Exactly one in-flight run per tenant may
// own it.
type Checkpoint struct {
	TenantID      string          `json:"tenant_id"`
	ModelID       string          `json:"model_id"`
	ListingDigest string          `json:"listing_digest"`
	Processed     map[string]bool `json:"processed_remote_ids"`
	Pending       []string        `json:"pending_remote_ids"`
	FailureReason string          `json:"failure_reason,omitempty"`
	UpdatedAt     int64           `json:"updated_at"`
}

// ListingDigest hashes a file listing's identity-relevant fields so a resume
// can detect whether the remote tree changed since the checkpoint was written.
// Order-insensitive: entries are sorted by remote id before hashing.
func ListingDigest(files []FileRecord) string {
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%s\x00%d\x00%d\x00%s", f.RemoteID, f.ModifiedAt, f.SizeBytes, f.ContentHash))
	}
	sort.Strings(lines)
	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
