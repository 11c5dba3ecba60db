package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

type fileConfig struct {
	Dir        string `json:"dir"`
	MaxBackups int    `json:"max_backups"`
}

// fileStore keeps one JSON document per tenant under dir. Writes go to a
// temp file first; the previous snapshot is copied aside as
// <tenant>_backup_<version>.json before the rename replaces it, so a crashed
// save never corrupts the last good snapshot.
type fileStore struct {
	dir        string
	maxBackups int
}

func init() {
	Register("file", createFileStore)
}

func createFileStore(args interface{}) (Store, error) {
	cfg := &fileConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("file store dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &fileStore{dir: cfg.Dir, maxBackups: cfg.MaxBackups}, nil
}

func (s *fileStore) Name() string {
	return "file"
}

func (s *fileStore) snapshotPath(tenantID string) string {
	return filepath.Join(s.dir, tenantID+".json")
}

func (s *fileStore) backupPath(tenantID string, version int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_backup_%d.json", tenantID, version))
}

func (s *fileStore) checkpointPath(tenantID string) string {
	return filepath.Join(s.dir, tenantID+".checkpoint.json")
}

func validTenantID(tenantID string) error {
	if tenantID == "" || strings.ContainsAny(tenantID, `/\`) || strings.Contains(tenantID, "..") {
		return fmt.Errorf("%w: bad tenant id %q", errs.ErrInvalid, tenantID)
	}
	return nil
}

func (s *fileStore) Load(ctx context.Context, tenantID string) (*model.Snapshot, error) {
	_ = ctx
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.snapshotPath(tenantID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no snapshot for tenant %s", errs.ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap := &model.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for tenant %s: %w", tenantID, err)
	}
	if snap.Records == nil {
		snap.Records = make(map[string]model.EmbeddingRecord)
	}
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, tenantID string, snap *model.Snapshot) error {
	_ = ctx
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", errs.ErrStoreWrite, err)
	}

	current := s.snapshotPath(tenantID)
	if prev, err := os.ReadFile(current); err == nil {
		if err := s.writeAtomic(s.backupPath(tenantID, versionOf(prev)), prev); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: read current snapshot: %v", errs.ErrStoreWrite, err)
	}

	if err := s.writeAtomic(current, data); err != nil {
		return err
	}
	s.pruneBackups(tenantID)
	return nil
}

func (s *fileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", errs.ErrStoreWrite, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %v", errs.ErrStoreWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %v", errs.ErrStoreWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", errs.ErrStoreWrite, filepath.Base(path), err)
	}
	return nil
}

// versionOf pulls only the version field out of a stored snapshot so the
// backup file can carry it. Unparseable data falls back to a timestamp
// suffix rather than failing the save.
func versionOf(data []byte) int64 {
	var probe struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return time.Now().UnixMilli()
	}
	return probe.Version
}

func (s *fileStore) Delete(ctx context.Context, tenantID string) error {
	_ = ctx
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	paths := []string{s.snapshotPath(tenantID), s.checkpointPath(tenantID)}
	backups, err := s.listBackupFiles(tenantID)
	if err != nil {
		return err
	}
	for _, b := range backups {
		paths = append(paths, filepath.Join(s.dir, b.Key))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove %s: %v", errs.ErrStoreWrite, filepath.Base(p), err)
		}
	}
	return nil
}

func (s *fileStore) ListBackups(ctx context.Context, tenantID string) ([]model.BackupInfo, error) {
	_ = ctx
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	return s.listBackupFiles(tenantID)
}

func (s *fileStore) listBackupFiles(tenantID string) ([]model.BackupInfo, error) {
	pattern := filepath.Join(s.dir, tenantID+"_backup_*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	backups := make([]model.BackupInfo, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		version, ok := backupVersion(tenantID, base)
		if !ok {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		backups = append(backups, model.BackupInfo{
			TenantID:  tenantID,
			Version:   version,
			Key:       base,
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Version > backups[j].Version })
	return backups, nil
}

func backupVersion(tenantID, base string) (int64, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(base, tenantID+"_backup_"), ".json")
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return version, true
}

// Restore replaces the current snapshot with the content of the given backup.
// The pre-restore snapshot is backed up first, and the restored snapshot's
// version moves past the current one so versions stay monotonic.
func (s *fileStore) Restore(ctx context.Context, tenantID string, version int64) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	data, err := os.ReadFile(s.backupPath(tenantID, version))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: no backup version %d for tenant %s", errs.ErrNotFound, version, tenantID)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	snap := &model.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return fmt.Errorf("decode backup version %d: %w", version, err)
	}
	if current, err := s.Load(ctx, tenantID); err == nil && current.Version >= snap.Version {
		snap.Version = current.Version + 1
	} else if err != nil && !errs.IsNotFound(err) {
		return err
	}
	return s.Save(ctx, tenantID, snap)
}

func (s *fileStore) LoadCheckpoint(ctx context.Context, tenantID string) (*model.Checkpoint, error) {
	_ = ctx
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.checkpointPath(tenantID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no checkpoint for tenant %s", errs.ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp := &model.Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint for tenant %s: %w", tenantID, err)
	}
	return cp, nil
}

func (s *fileStore) SaveCheckpoint(ctx context.Context, tenantID string, cp *model.Checkpoint) error {
	_ = ctx
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode checkpoint: %v", errs.ErrStoreWrite, err)
	}
	return s.writeAtomic(s.checkpointPath(tenantID), data)
}

func (s *fileStore) DeleteCheckpoint(ctx context.Context, tenantID string) error {
	_ = ctx
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	if err := os.Remove(s.checkpointPath(tenantID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove checkpoint: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func (s *fileStore) Ping(ctx context.Context) error {
	_ = ctx
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("store dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.dir)
	}
	return nil
}

func (s *fileStore) pruneBackups(tenantID string) {
	if s.maxBackups <= 0 {
		return
	}
	backups, err := s.listBackupFiles(tenantID)
	if err != nil || len(backups) <= s.maxBackups {
		return
	}
	for _, b := range backups[s.maxBackups:] {
		os.Remove(filepath.Join(s.dir, b.Key))
	}
}
