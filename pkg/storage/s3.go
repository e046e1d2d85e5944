// Package storage moves monthly archives and run outputs between the local
// work directory and an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"travel-time/pkg/logging"
)

// ErrObjectNotFound is returned when a requested key does not exist
var ErrObjectNotFound = errors.New("object not found")

// Config holds bucket connection settings
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// s3API is the subset of the S3 client used here
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store downloads and uploads files to one bucket
type S3Store struct {
	client s3API
	bucket string
	logger *logging.StructuredLogger
}

// NewS3Store creates a store for cfg. A custom endpoint (R2, MinIO) is used
// when set; otherwise the regional AWS endpoint applies.
func NewS3Store(cfg Config, logger *logging.StructuredLogger) *S3Store {
	opts := s3.Options{
		Region: cfg.Region,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	return newS3Store(s3.New(opts), cfg.Bucket, logger)
}

func newS3Store(client s3API, bucket string, logger *logging.StructuredLogger) *S3Store {
	return &S3Store{client: client, bucket: bucket, logger: logger}
}

// JoinKey joins key segments with '/', ignoring empty segments
func JoinKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return path.Join(kept...)
}

// Download writes the object at key to destPath. The file is written under a
// temporary name and renamed so a failed transfer leaves nothing behind.
func (s *S3Store) Download(ctx context.Context, key, destPath string) error {
	start := time.Now()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrObjectNotFound)
		}
		return fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, out.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	s.logger.Info(ctx, "[STORAGE_DOWNLOAD] Object downloaded", logging.Fields{
		"bucket":      s.bucket,
		"key":         key,
		"bytes":       n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// Upload puts the file at srcPath under key
func (s *S3Store) Upload(ctx context.Context, key, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(srcPath)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}

	s.logger.Debug(ctx, "[STORAGE_UPLOAD] Object uploaded", logging.Fields{
		"bucket": s.bucket,
		"key":    key,
	})
	return nil
}

// UploadDir uploads every regular file below dir, keyed by prefix plus the
// file's relative path. It returns the number of files uploaded.
func (s *S3Store) UploadDir(ctx context.Context, prefix, dir string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if err := s.Upload(ctx, JoinKey(prefix, filepath.ToSlash(rel)), p); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, err
	}

	s.logger.Info(ctx, "[STORAGE_UPLOAD_DIR] Outputs uploaded", logging.Fields{
		"bucket": s.bucket,
		"prefix": prefix,
		"files":  uploaded,
	})
	return uploaded, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".txt", ".prj":
		return "text/plain"
	case ".geojson":
		return "application/geo+json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
