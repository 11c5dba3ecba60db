package diff

import (
	"sort"

	"github.com/shintairiku/cohere-rag/internal/model"
)

// Result partitions a file listing against the stored records. The four
// slices are disjoint; Added/Updated/Unchanged together cover the listing and
// Removed/Updated/Unchanged together cover the stored set. Each slice is
// sorted ascending by remote id so runs are reproducible.
type Result struct {
	Added     []model.FileRecord
	Updated   []model.FileRecord
	Removed   []model.EmbeddingRecord
	Unchanged []model.FileRecord
}

// Pending returns the files that need an embedding call, added and updated
// merged and sorted by remote id.
func (r Result) Pending() []model.FileRecord {
	out := make([]model.FileRecord, 0, len(r.Added)+len(r.Updated))
	out = append(out, r.Added...)
	out = append(out, r.Updated...)
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}

// Diff classifies current against stored. No I/O: pure comparison so it can
// be tested without any embedding backend.
//
// A file counts as updated when its modification time or size differs from
// the stored record. When both match and both sides carry a content hash,
// differing hashes also count as updated; this catches content rewrites that
// preserve mtime and size.
func Diff(current []model.FileRecord, stored map[string]model.EmbeddingRecord) Result {
	var res Result
	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f.RemoteID] = true
		rec, ok := stored[f.RemoteID]
		switch {
		case !ok:
			res.Added = append(res.Added, f)
		case changed(f, rec):
			res.Updated = append(res.Updated, f)
		default:
			res.Unchanged = append(res.Unchanged, f)
		}
	}
	for id, rec := range stored {
		if !seen[id] {
			res.Removed = append(res.Removed, rec)
		}
	}

	sort.Slice(res.Added, func(i, j int) bool { return res.Added[i].RemoteID < res.Added[j].RemoteID })
	sort.Slice(res.Updated, func(i, j int) bool { return res.Updated[i].RemoteID < res.Updated[j].RemoteID })
	sort.Slice(res.Unchanged, func(i, j int) bool { return res.Unchanged[i].RemoteID < res.Unchanged[j].RemoteID })
	sort.Slice(res.Removed, func(i, j int) bool { return res.Removed[i].RemoteID < res.Removed[j].RemoteID })
	return res
}

func changed(f model.FileRecord, rec model.EmbeddingRecord) bool {
	if f.ModifiedAt != rec.ModifiedAt || f.SizeBytes != rec.SizeBytes {
		return true
	}
	if f.ContentHash != "" && rec.ContentHash != "" && f.ContentHash != rec.ContentHash {
		return true
	}
	return false
}
