package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

type s3SourceConfig struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

// s3Source lists image objects under bucket/prefix/<folderRef>. Remote ids
// are full object keys; the object ETag doubles as the content hash for the
// differ's tie-breaker.
type s3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

func init() {
	Register("s3", createS3Source)
}

func createS3Source(args interface{}) (Source, error) {
	cfg := &s3SourceConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 source bucket is required")
	}
	client, err := newS3Client(cfg.Endpoint, cfg.Region, cfg.SecretID, cfg.SecretKey, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	return &s3Source{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func newS3Client(endpoint, region, secretID, secretKey string, useSSL bool) (*s3.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if secretID != "" && secretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(secretID, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(endpoint, useSSL))
			o.UsePathStyle = true
		}
	}), nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

func (s *s3Source) Name() string {
	return "s3"
}

func (s *s3Source) List(ctx context.Context, folderRef string) ([]model.FileRecord, error) {
	prefix := s.listPrefix(folderRef)
	var files []model.FileRecord
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !isImagePath(key) {
				continue
			}
			files = append(files, model.FileRecord{
				RemoteID:     key,
				RelativePath: strings.TrimPrefix(key, prefix),
				ModifiedAt:   aws.ToTime(obj.LastModified).UnixMilli(),
				SizeBytes:    aws.ToInt64(obj.Size),
				ContentHash:  strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RemoteID < files[j].RemoteID })
	return files, nil
}

func (s *s3Source) Open(ctx context.Context, file model.FileRecord) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(file.RemoteID),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", file.RemoteID, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *s3Source) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return mapS3Error(err)
	}
	return nil
}

func (s *s3Source) listPrefix(folderRef string) string {
	ref := strings.Trim(NormalizeFolderRef(folderRef), "/")
	combined := path.Join(s.prefix, ref)
	if combined == "" || combined == "." {
		return ""
	}
	return combined + "/"
}

func mapS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %v", errs.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", errs.ErrSourceUnreachable, err)
}
