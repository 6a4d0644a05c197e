package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMinio implements minioAPI for testing without network.
type fakeMinio struct {
	mu sync.Mutex

	bucketExists    bool
	bucketExistsErr error
	makeBucketErr   error
	madeBucket      bool

	objects map[string][]byte
	putErr  error
}

func (f *fakeMinio) BucketExists(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bucketExists || f.madeBucket, f.bucketExistsErr
}

func (f *fakeMinio) MakeBucket(_ context.Context, _ string, _ minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.makeBucketErr != nil {
		return f.makeBucketErr
	}
	f.madeBucket = true
	return nil
}

func (f *fakeMinio) PutObject(_ context.Context, _ string, key string, reader io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeMinio) GetObject(_ context.Context, _ string, key string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestNewMinioBackendWithAPI_CreatesBucket(t *testing.T) {
	api := &fakeMinio{}
	b, err := NewMinioBackendWithAPI(context.Background(), api, "vault", "blobs", discardLogger())
	require.NoError(t, err)
	assert.True(t, api.madeBucket)
	assert.Equal(t, "minio-vault", b.Name())
}

func TestNewMinioBackendWithAPI_Errors(t *testing.T) {
	_, err := NewMinioBackendWithAPI(context.Background(), &fakeMinio{bucketExistsErr: errors.New("boom")}, "vault", "", discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ensure bucket exists")

	_, err = NewMinioBackendWithAPI(context.Background(), &fakeMinio{makeBucketErr: errors.New("fail")}, "vault", "", discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create bucket")

	_, err = NewMinioBackendWithAPI(context.Background(), &fakeMinio{}, "", "", discardLogger())
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestMinioBackend_StoreFetch(t *testing.T) {
	ctx := context.Background()
	api := &fakeMinio{bucketExists: true}
	b, err := NewMinioBackendWithAPI(ctx, api, "vault", "/blobs/", discardLogger())
	require.NoError(t, err)

	data := []byte("ciphertext")
	id, err := b.Store(ctx, data, interfaces.MessagePayloadType)
	require.NoError(t, err)
	assert.Contains(t, api.objects, "blobs/messages/"+id.String())

	got, err := b.Fetch(ctx, id, interfaces.MessagePayloadType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = b.Fetch(ctx, interfaces.ComputeID([]byte("missing")), interfaces.MessagePayloadType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	assert.True(t, b.Available(ctx))
}

func TestMinioBackend_StoreError(t *testing.T) {
	ctx := context.Background()
	b, err := NewMinioBackendWithAPI(ctx, &fakeMinio{bucketExists: true, putErr: errors.New("disk full")}, "vault", "", discardLogger())
	require.NoError(t, err)

	_, err = b.Store(ctx, []byte("x"), interfaces.FilePayloadType)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload object")
}
