package source

import (
	"regexp"
	"strings"
)

var (
	folderRefFolders = regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`)
	folderRefOpenID  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	folderRefShortD  = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)/`)
)

// NormalizeFolderRef reduces drive-style share URLs to the bare folder id.
// Anything that is not a URL (a local path, a bucket prefix, an already-bare
// id) passes through unchanged.
func NormalizeFolderRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "http") {
		return ref
	}
	for _, re := range []*regexp.Regexp{folderRefFolders, folderRefOpenID, folderRefShortD} {
		if m := re.FindStringSubmatch(ref); m != nil {
			return m[1]
		}
	}
	return ref
}
