package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_StoreFetch(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("ciphertext")

	id, err := backend.Store(ctx, data, interfaces.FilePayloadType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	_, err = os.Stat(filepath.Join(dir, "files", id.String()))
	require.NoError(t, err)

	got, err := backend.Fetch(ctx, id, interfaces.FilePayloadType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Namespaces are separate.
	_, err = backend.Fetch(ctx, id, interfaces.MessagePayloadType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// Storing twice is a no-op.
	again, err := backend.Store(ctx, data, interfaces.FilePayloadType)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestFileBackend_Available(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)

	assert.True(t, backend.Available(context.Background()))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	require.NoError(t, os.RemoveAll(dir))
	assert.False(t, backend.Available(context.Background()))
}
