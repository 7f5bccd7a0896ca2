package visual

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores an encoded asset and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// StorageConfig selects and configures the asset destination.
type StorageConfig struct {
	OutputDir     string
	PublicBaseURL string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3PathStyle   bool
}

// NewUploader returns an S3 uploader when a bucket is configured and a local one otherwise.
func NewUploader(ctx context.Context, cfg StorageConfig) (Uploader, error) {
	if cfg.S3Bucket == "" {
		dir := cfg.OutputDir
		if dir == "" {
			dir = "./output"
		}
		return &LocalUploader{BaseDir: dir, PublicBaseURL: cfg.PublicBaseURL}, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Uploader{client: client, bucket: cfg.S3Bucket, region: cfg.S3Region, publicBaseURL: cfg.PublicBaseURL}, nil
}

func newS3Client(ctx context.Context, cfg StorageConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimLeft(key, "/")
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	return strings.TrimPrefix(key, "./")
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// LocalUploader writes assets under BaseDir. The API serves that directory at /assets/, so
// PublicBaseURL should point there.
type LocalUploader struct {
	BaseDir       string
	PublicBaseURL string
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	key = sanitizeKey(key)
	path := filepath.Join(l.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if l.PublicBaseURL == "" {
		return path, nil
	}
	return joinURL(l.PublicBaseURL, key), nil
}

// S3Uploader puts objects into a bucket.
type S3Uploader struct {
	client        *s3.Client
	bucket        string
	region        string
	publicBaseURL string
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	if s.publicBaseURL != "" {
		return joinURL(s.publicBaseURL, key), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
