// Package objectstore uploads extract outputs to S3-compatible storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Uploader puts files into a single bucket.
type Uploader struct {
	client *miniogo.Client
	bucket string
}

func New(cfg Config) (*Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("object store bucket is required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it is missing.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
	}
	return nil
}

// UploadFile puts localPath under key with a content type derived from its extension.
func (u *Uploader) UploadFile(ctx context.Context, localPath, key string) error {
	_, err := u.client.FPutObject(ctx, u.bucket, key, localPath, miniogo.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", localPath, err)
	}
	return nil
}

// UploadDir uploads every regular file directly under dir to prefix/<name> and returns the keys.
func (u *Uploader) UploadDir(ctx context.Context, dir, prefix string) ([]string, error) {
	if err := u.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		key := ObjectKey(prefix, e.Name())
		if err := u.UploadFile(ctx, filepath.Join(dir, e.Name()), key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ObjectKey joins prefix and name with forward slashes regardless of OS.
func ObjectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	switch ext := filepath.Ext(name); ext {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
