package model

import (
	"fmt"
	"strings"
)

type QueryMode string

const (
	QueryModeSimilar QueryMode = "similar"
	QueryModeRandom  QueryMode = "random"
)

// legacy trigger vocabulary still sent by older spreadsheet clients
const (
	legacyTriggerSimilar = "類似画像検索"
	legacyTriggerRandom  = "ランダム画像検索"
)

// ParseQueryMode normalizes the inbound trigger vocabulary to the canonical
// query modes. Alias handling happens here only; the core never sees the
// legacy strings.
func ParseQueryMode(s string) (QueryMode, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case string(QueryModeSimilar), legacyTriggerSimilar:
		return QueryModeSimilar, nil
	case string(QueryModeRandom), legacyTriggerRandom:
		return QueryModeRandom, nil
	}
	return "", fmt.Errorf("unknown query mode: %q", s)
}

// SearchRequest is a normalized search call: the mode is already canonical
// and the trigger vocabulary resolved.
type SearchRequest struct {
	TenantID string
	Mode     QueryMode
	Query    string
	Vector   []float32
	TopK     int
	Exclude  []string
}

// SearchResult is one ranked or sampled hit. SimilarityScore is nil for
// random-mode results.
type SearchResult struct {
	RemoteID        string   `json:"remote_id"`
	RelativePath    string   `json:"relative_path"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}
