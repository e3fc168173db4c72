package cloudsync

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig addresses an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// MinioUploader stores the collection as one object. The access token passed
// to Upload is ignored; credentials come from the config.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

func NewMinioUploader(cfg MinioConfig) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioUploader{client: client, bucket: cfg.Bucket}, nil
}

func (u *MinioUploader) Name() string { return "minio" }

// EnsureBucket creates the bucket when it does not exist.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", u.bucket, err)
	}
	return nil
}

func (u *MinioUploader) Upload(ctx context.Context, _ string, path string, data []byte) error {
	object := strings.TrimPrefix(path, "/")
	_, err := u.client.PutObject(ctx, u.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		if minio.ToErrorResponse(err).StatusCode == 403 {
			return fmt.Errorf("%w: %v", ErrRemoteUnauthorized, err)
		}
		return fmt.Errorf("minio put %s/%s: %w", u.bucket, object, err)
	}
	return nil
}
