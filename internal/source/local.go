package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

type localConfig struct {
	RootDir     string   `json:"root_dir"`
	Include     []string `json:"include"`
	HashContent bool     `json:"hash_content"`
}

// localSource lists image files under a directory tree. The folder reference
// is a path relative to root_dir ("" means the root itself); remote ids are
// root-relative slash paths so they stay stable across folder moves within a
// tenant.
type localSource struct {
	root        string
	include     []string
	hashContent bool
}

func init() {
	Register("local", createLocalSource)
}

func createLocalSource(args interface{}) (Source, error) {
	cfg := &localConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("local source root_dir is required")
	}
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root_dir: %w", err)
	}
	return &localSource{root: root, include: cfg.Include, hashContent: cfg.HashContent}, nil
}

func (s *localSource) Name() string {
	return "local"
}

func (s *localSource) List(ctx context.Context, folderRef string) ([]model.FileRecord, error) {
	dir := s.root
	if ref := strings.Trim(NormalizeFolderRef(folderRef), "/"); ref != "" {
		dir = filepath.Join(s.root, filepath.FromSlash(ref))
	}
	if err := s.checkDir(dir); err != nil {
		return nil, err
	}

	var files []model.FileRecord
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// unreadable entries are skipped, not fatal
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		relToDir, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		relPath := filepath.ToSlash(relToDir)
		if !isImagePath(relPath) || !s.matchesInclude(relPath) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		relToRoot, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		rec := model.FileRecord{
			RemoteID:     filepath.ToSlash(relToRoot),
			RelativePath: relPath,
			ModifiedAt:   info.ModTime().UnixMilli(),
			SizeBytes:    info.Size(),
		}
		if s.hashContent {
			sum, err := hashFile(path)
			if err != nil {
				return nil
			}
			rec.ContentHash = sum
		}
		files = append(files, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", errs.ErrSourceUnreachable, dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RemoteID < files[j].RemoteID })
	return files, nil
}

func (s *localSource) Open(ctx context.Context, file model.FileRecord) ([]byte, error) {
	_ = ctx
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(file.RemoteID)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.RemoteID, err)
	}
	return data, nil
}

func (s *localSource) Ping(ctx context.Context) error {
	_ = ctx
	return s.checkDir(s.root)
}

func (s *localSource) checkDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s does not exist", errs.ErrSourceUnreachable, dir)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s", errs.ErrPermissionDenied, dir)
	case err != nil:
		return fmt.Errorf("%w: stat %s: %v", errs.ErrSourceUnreachable, dir, err)
	case !info.IsDir():
		return fmt.Errorf("%w: %s is not a directory", errs.ErrSourceUnreachable, dir)
	}
	return nil
}

func (s *localSource) matchesInclude(relPath string) bool {
	if len(s.include) == 0 {
		return true
	}
	for _, pattern := range s.include {
		if ok, err := doublestar.PathMatch(pattern, relPath); err == nil && ok {
			return true
		}
		if ok, err := doublestar.PathMatch(pattern, filepath.Base(relPath)); err == nil && ok {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
