package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ruteri/soulbox-vault/interfaces"
)

var _ interfaces.StorageBackend = (*MinioBackend)(nil)

// minioAPI is the subset of *minio.Client the backend needs. It lets tests
// run without a MinIO server.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

type minioClientWrapper struct{ c *minio.Client }

func (w minioClientWrapper) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return w.c.BucketExists(ctx, bucketName)
}

func (w minioClientWrapper) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return w.c.MakeBucket(ctx, bucketName, opts)
}

func (w minioClientWrapper) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return w.c.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (w minioClientWrapper) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := w.c.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// MinioBackend stores blobs in a MinIO bucket.
type MinioBackend struct {
	api         minioAPI
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewMinioBackend connects to a MinIO server and makes sure the bucket exists.
func NewMinioBackend(ctx context.Context, endpoint, accessKey, secretKey, bucket, prefix string, useSSL bool, log *slog.Logger) (*MinioBackend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	b, err := NewMinioBackendWithAPI(ctx, minioClientWrapper{c: client}, bucket, prefix, log)
	if err != nil {
		return nil, err
	}
	b.locationURI = fmt.Sprintf("minio://%s/%s/%s?ssl=%t", endpoint, bucket, b.prefix, useSSL)
	return b, nil
}

// NewMinioBackendWithAPI builds the backend on an injected API.
func NewMinioBackendWithAPI(ctx context.Context, api minioAPI, bucket, prefix string, log *slog.Logger) (*MinioBackend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: missing MinIO bucket", interfaces.ErrInvalidLocationURI)
	}

	b := &MinioBackend{
		api:         api,
		bucket:      bucket,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: fmt.Sprintf("minio://%s/%s", bucket, strings.Trim(prefix, "/")),
	}

	if err := b.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return b, nil
}

func (b *MinioBackend) ensureBucketExists(ctx context.Context) error {
	exists, err := b.api.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := b.api.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	b.log.Info("Created MinIO bucket", slog.String("bucket", b.bucket))
	return nil
}

// Fetch downloads a blob. A missing object maps to ErrContentNotFound.
func (b *MinioBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	key := b.objectKey(id, contentType)

	obj, err := b.api.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.mapError(err, "failed to get object")
	}
	defer obj.Close()

	// minio.Object defers the request until the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.mapError(err, "failed to read object")
	}

	b.log.Debug("Fetched content from MinIO",
		slog.String("bucket", b.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)))

	return data, nil
}

// Store uploads a blob and returns its content identifier.
func (b *MinioBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	key := b.objectKey(id, contentType)

	_, err := b.api.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return id, fmt.Errorf("failed to upload object: %w", err)
	}

	b.log.Debug("Stored content in MinIO",
		slog.String("bucket", b.bucket),
		slog.String("key", key))

	return id, nil
}

// Available checks that the bucket is reachable.
func (b *MinioBackend) Available(ctx context.Context) bool {
	exists, err := b.api.BucketExists(ctx, b.bucket)
	if err != nil {
		b.log.Warn("MinIO backend unavailable",
			slog.String("bucket", b.bucket),
			"err", err)
		return false
	}
	return exists
}

// Name returns a unique identifier for this storage backend.
func (b *MinioBackend) Name() string {
	return fmt.Sprintf("minio-%s", b.bucket)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MinioBackend) LocationURI() string {
	return b.locationURI
}

func (b *MinioBackend) objectKey(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(b.prefix, contentType.String(), id.String())
}

func (b *MinioBackend) mapError(err error, msg string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return interfaces.ErrContentNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
