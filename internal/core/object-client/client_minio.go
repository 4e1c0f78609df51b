package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	cfg "github.com/markdave123-py/contexta-kb/internal/config"
	"github.com/markdave123-py/contexta-kb/internal/core"
)

// MinioClient stores documents in a MinIO (or other S3-compatible) bucket.
type MinioClient struct {
	client *minio.Client
	bucket string
}

func NewMinioClient(ctx context.Context, cfg *cfg.Config) (core.ObjectClient, error) {
	if cfg.MinioEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT not set")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("bucket name not set")
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.BucketName, err)
		}
		log.Info().Str("bucket", cfg.BucketName).Msg("created minio bucket")
	}

	log.Info().Str("endpoint", cfg.MinioEndpoint).Str("bucket", cfg.BucketName).Msg("connected to minio")
	return &MinioClient{client: client, bucket: cfg.BucketName}, nil
}

func (c *MinioClient) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := c.client.PutObject(ctxUpload, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", &core.StorageError{Op: "upload", Key: key, Err: err}
	}
	return c.client.EndpointURL().JoinPath(c.bucket, key).String(), nil
}

func (c *MinioClient) GetFile(ctx context.Context, key string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	rc, err := c.GetObjectReader(ctxGet, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, &core.StorageError{Op: "read", Key: key, Err: err}
	}
	return body, nil
}

// GetObjectReader stats the object first so a missing key fails here rather
// than on the first read.
func (c *MinioClient) GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.getError(key, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, c.getError(key, err)
	}
	return obj, nil
}

func (c *MinioClient) DeleteFile(ctx context.Context, key string) error {
	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := c.client.RemoveObject(ctxDel, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return &core.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (c *MinioClient) PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = core.DefaultPresignTTL
	}
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, ttl, nil)
	if err != nil {
		return "", &core.StorageError{Op: "presign", Key: key, Err: err}
	}
	return u.String(), nil
}

func (c *MinioClient) getError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return &core.NotFoundError{Resource: "object", ID: key}
	}
	return &core.StorageError{Op: "get", Key: key, Err: err}
}
