package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/shintairiku/cohere-rag/internal/model"
	"github.com/shintairiku/cohere-rag/internal/pkg/dbutil"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type postgresConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// postgresStore keeps live records as pgvector rows and whole-snapshot
// backups as JSONB payloads. Saves run in one transaction with the meta row
// locked, so a failed save rolls back to the previous snapshot untouched.
type postgresStore struct {
	db *sql.DB
}

func init() {
	Register("postgres", createPostgresStore)
}

func createPostgresStore(args interface{}) (Store, error) {
	cfg := &postgresConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if dsn == "" {
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslmode)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		return nil, err
	}
	return &postgresStore{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return err
		}
		for _, q := range strings.Split(string(content), ";") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, err := db.Exec(q); err != nil {
				if strings.Contains(err.Error(), "already exists") {
					continue
				}
				return fmt.Errorf("execute query in %s: %w", file, err)
			}
		}
	}
	return nil
}

func (s *postgresStore) Name() string {
	return "postgres"
}

func (s *postgresStore) Load(ctx context.Context, tenantID string) (*model.Snapshot, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, tenantID, false)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *postgresStore) load(ctx context.Context, q queryer, tenantID string, forUpdate bool) (*model.Snapshot, error) {
	metaQuery := `SELECT model_id, version, last_synced_at FROM rag_snapshots WHERE tenant_id = $1`
	if forUpdate {
		metaQuery += ` FOR UPDATE`
	}
	snap := model.NewSnapshot(tenantID, "")
	err := q.QueryRowContext(ctx, metaQuery, tenantID).Scan(&snap.ModelID, &snap.Version, &snap.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no snapshot for tenant %s", errs.ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot meta: %w", err)
	}

	const recordsQuery = `
		SELECT remote_id, relative_path, embedding, model_id, modified_at, size_bytes, content_hash, created_at
		FROM rag_embeddings
		WHERE tenant_id = $1
	`
	rows, err := q.QueryContext(ctx, recordsQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load embedding rows: %w", err)
	}
	for rows.Next() {
		var rec model.EmbeddingRecord
		var vec pgvector.Vector
		if err := rows.Scan(&rec.RemoteID, &rec.RelativePath, &vec, &rec.ModelID,
			&rec.ModifiedAt, &rec.SizeBytes, &rec.ContentHash, &rec.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Vector = vec.Slice()
		snap.Records[rec.RemoteID] = rec
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// close before the next query; q may be a transaction on a single conn
	rows.Close()

	const skippedQuery = `
		SELECT remote_id, relative_path, modified_at, size_bytes, content_hash, reason, recorded_at
		FROM rag_skipped
		WHERE tenant_id = $1
	`
	skippedRows, err := q.QueryContext(ctx, skippedQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load skipped rows: %w", err)
	}
	defer skippedRows.Close()
	for skippedRows.Next() {
		var sk model.SkippedFile
		if err := skippedRows.Scan(&sk.RemoteID, &sk.RelativePath, &sk.ModifiedAt,
			&sk.SizeBytes, &sk.ContentHash, &sk.Reason, &sk.RecordedAt); err != nil {
			return nil, err
		}
		snap.Skipped[sk.RemoteID] = sk
	}
	return snap, skippedRows.Err()
}

func (s *postgresStore) Save(ctx context.Context, tenantID string, snap *model.Snapshot) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errs.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	prev, err := s.load(ctx, tx, tenantID, true)
	switch {
	case err == nil:
		payload, err := json.Marshal(prev)
		if err != nil {
			return fmt.Errorf("%w: encode backup: %v", errs.ErrStoreWrite, err)
		}
		const backupQuery = `
			INSERT INTO rag_backups (tenant_id, version, payload, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, version) DO UPDATE SET
				payload = EXCLUDED.payload,
				created_at = EXCLUDED.created_at
		`
		if _, err := tx.ExecContext(ctx, backupQuery, tenantID, prev.Version, payload, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("%w: write backup: %v", errs.ErrStoreWrite, err)
		}
	case !errs.IsNotFound(err):
		return err
	}

	for _, table := range []string{"rag_embeddings", "rag_skipped"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1`, table), tenantID); err != nil {
			return fmt.Errorf("%w: clear %s: %v", errs.ErrStoreWrite, table, err)
		}
	}

	const insertRecordQuery = `
		INSERT INTO rag_embeddings (tenant_id, remote_id, relative_path, embedding, model_id, modified_at, size_bytes, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, id := range sortedRecordIDs(snap.Records) {
		rec := snap.Records[id]
		if _, err := tx.ExecContext(ctx, insertRecordQuery, tenantID, rec.RemoteID, rec.RelativePath,
			pgvector.NewVector(rec.Vector), rec.ModelID, rec.ModifiedAt, rec.SizeBytes, rec.ContentHash, rec.CreatedAt); err != nil {
			return fmt.Errorf("%w: insert embedding %s: %v", errs.ErrStoreWrite, rec.RemoteID, err)
		}
	}

	const insertSkippedQuery = `
		INSERT INTO rag_skipped (tenant_id, remote_id, relative_path, modified_at, size_bytes, content_hash, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, id := range sortedSkippedIDs(snap.Skipped) {
		sk := snap.Skipped[id]
		if _, err := tx.ExecContext(ctx, insertSkippedQuery, tenantID, sk.RemoteID, sk.RelativePath,
			sk.ModifiedAt, sk.SizeBytes, sk.ContentHash, sk.Reason, sk.RecordedAt); err != nil {
			return fmt.Errorf("%w: insert skipped %s: %v", errs.ErrStoreWrite, sk.RemoteID, err)
		}
	}

	const metaQuery = `
		INSERT INTO rag_snapshots (tenant_id, model_id, version, last_synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			model_id = EXCLUDED.model_id,
			version = EXCLUDED.version,
			last_synced_at = EXCLUDED.last_synced_at
	`
	if _, err := tx.ExecContext(ctx, metaQuery, tenantID, snap.ModelID, snap.Version, snap.LastSyncedAt); err != nil {
		return fmt.Errorf("%w: write snapshot meta: %v", errs.ErrStoreWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func sortedRecordIDs(records map[string]model.EmbeddingRecord) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedSkippedIDs(skipped map[string]model.SkippedFile) []string {
	ids := make([]string, 0, len(skipped))
	for id := range skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *postgresStore) Delete(ctx context.Context, tenantID string) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errs.ErrStoreWrite, err)
	}
	defer tx.Rollback()
	for _, table := range []string{"rag_embeddings", "rag_skipped", "rag_backups", "rag_checkpoints", "rag_snapshots"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1`, table), tenantID); err != nil {
			return fmt.Errorf("%w: delete from %s: %v", errs.ErrStoreWrite, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func (s *postgresStore) ListBackups(ctx context.Context, tenantID string) ([]model.BackupInfo, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	where := map[string]interface{}{"tenant_id": tenantID, "_orderby": "version desc"}
	sqlStr, args, err := builder.BuildSelect("rag_backups", where,
		[]string{"version", "octet_length(payload::text)", "created_at"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()
	backups := make([]model.BackupInfo, 0)
	for rows.Next() {
		b := model.BackupInfo{TenantID: tenantID}
		if err := rows.Scan(&b.Version, &b.SizeBytes, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Key = fmt.Sprintf("%s_backup_%d", tenantID, b.Version)
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

func (s *postgresStore) Restore(ctx context.Context, tenantID string, version int64) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM rag_backups WHERE tenant_id = $1 AND version = $2`,
		tenantID, version).Scan(&payload)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: no backup version %d for tenant %s", errs.ErrNotFound, version, tenantID)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	snap := &model.Snapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return fmt.Errorf("decode backup version %d: %w", version, err)
	}
	if snap.Records == nil {
		snap.Records = make(map[string]model.EmbeddingRecord)
	}
	if current, err := s.Load(ctx, tenantID); err == nil && current.Version >= snap.Version {
		snap.Version = current.Version + 1
	} else if err != nil && !errs.IsNotFound(err) {
		return err
	}
	return s.Save(ctx, tenantID, snap)
}

func (s *postgresStore) LoadCheckpoint(ctx context.Context, tenantID string) (*model.Checkpoint, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM rag_checkpoints WHERE tenant_id = $1`, tenantID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no checkpoint for tenant %s", errs.ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp := &model.Checkpoint{}
	if err := json.Unmarshal(payload, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint for tenant %s: %w", tenantID, err)
	}
	return cp, nil
}

func (s *postgresStore) SaveCheckpoint(ctx context.Context, tenantID string, cp *model.Checkpoint) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: encode checkpoint: %v", errs.ErrStoreWrite, err)
	}
	const query = `
		INSERT INTO rag_checkpoints (tenant_id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, tenantID, payload, time.Now().UnixMilli()); err != nil {
		if dbutil.IsConflict(err) {
			return fmt.Errorf("%w: checkpoint conflict: %v", errs.ErrStoreWrite, err)
		}
		return fmt.Errorf("%w: write checkpoint: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func (s *postgresStore) DeleteCheckpoint(ctx context.Context, tenantID string) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rag_checkpoints WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("%w: delete checkpoint: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
