package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

type s3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

// s3Store keeps snapshots as JSON objects. A single PutObject is atomic per
// key, so the backup-then-replace discipline maps to CopyObject of the
// current snapshot followed by one PutObject.
type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func init() {
	Register("s3", createS3Store)
}

func createS3Store(args interface{}) (Store, error) {
	cfg := &s3Config{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.SecretID != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SecretID, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			ep := cfg.Endpoint
			if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
				scheme := "http"
				if cfg.UseSSL {
					scheme = "https"
				}
				ep = scheme + "://" + ep
			}
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		}
	})
	return &s3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *s3Store) Name() string {
	return "s3"
}

func (s *s3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *s3Store) snapshotKey(tenantID string) string {
	return s.key(tenantID + ".json")
}

func (s *s3Store) backupKey(tenantID string, version int64) string {
	return s.key(fmt.Sprintf("%s_backup_%d.json", tenantID, version))
}

func (s *s3Store) checkpointKey(tenantID string) string {
	return s.key(tenantID + ".checkpoint.json")
}

func (s *s3Store) Load(ctx context.Context, tenantID string) (*model.Snapshot, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	data, err := s.get(ctx, s.snapshotKey(tenantID))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: no snapshot for tenant %s", errs.ErrNotFound, tenantID)
		}
		return nil, err
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

func (s *s3Store) Save(ctx context.Context, tenantID string, snap *model.Snapshot) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", errs.ErrStoreWrite, err)
	}

	current := s.snapshotKey(tenantID)
	prev, err := s.get(ctx, current)
	switch {
	case err == nil:
		if err := s.copy(ctx, current, s.backupKey(tenantID, versionOf(prev))); err != nil {
			return fmt.Errorf("%w: backup snapshot: %v", errs.ErrStoreWrite, err)
		}
	case !isNoSuchKey(err):
		return fmt.Errorf("%w: read current snapshot: %v", errs.ErrStoreWrite, err)
	}

	if err := s.put(ctx, current, data); err != nil {
		return fmt.Errorf("%w: write snapshot: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func (s *s3Store) Delete(ctx context.Context, tenantID string) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	keys := []string{s.snapshotKey(tenantID), s.checkpointKey(tenantID)}
	backups, err := s.ListBackups(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, b := range backups {
		keys = append(keys, b.Key)
	}
	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil && !isNoSuchKey(err) {
			return fmt.Errorf("%w: delete %s: %v", errs.ErrStoreWrite, key, err)
		}
	}
	return nil
}

func (s *s3Store) ListBackups(ctx context.Context, tenantID string) ([]model.BackupInfo, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	keyPrefix := s.key(tenantID + "_backup_")
	var backups []model.BackupInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			version, ok := backupVersion(tenantID, path.Base(key))
			if !ok {
				continue
			}
			backups = append(backups, model.BackupInfo{
				TenantID:  tenantID,
				Version:   version,
				Key:       key,
				SizeBytes: aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified).UnixMilli(),
			})
		}
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Version > backups[j].Version })
	return backups, nil
}

func (s *s3Store) Restore(ctx context.Context, tenantID string, version int64) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	data, err := s.get(ctx, s.backupKey(tenantID, version))
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%w: no backup version %d for tenant %s", errs.ErrNotFound, version, tenantID)
		}
		return err
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

func (s *s3Store) LoadCheckpoint(ctx context.Context, tenantID string) (*model.Checkpoint, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	data, err := s.get(ctx, s.checkpointKey(tenantID))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: no checkpoint for tenant %s", errs.ErrNotFound, tenantID)
		}
		return nil, err
	}
	cp := &model.Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint for tenant %s: %w", tenantID, err)
	}
	return cp, nil
}

func (s *s3Store) SaveCheckpoint(ctx context.Context, tenantID string, cp *model.Checkpoint) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: encode checkpoint: %v", errs.ErrStoreWrite, err)
	}
	if err := s.put(ctx, s.checkpointKey(tenantID), data); err != nil {
		return fmt.Errorf("%w: write checkpoint: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func (s *s3Store) DeleteCheckpoint(ctx context.Context, tenantID string) error {
	if err := validTenantID(tenantID); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.checkpointKey(tenantID)),
	}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("%w: delete checkpoint: %v", errs.ErrStoreWrite, err)
	}
	return nil
}

func (s *s3Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *s3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *s3Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *s3Store) copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + srcKey)),
		Key:        aws.String(dstKey),
	})
	return err
}

func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
