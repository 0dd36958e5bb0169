package minio

import (
	"context"
	"testing"

	"github.com/hupe1980/countrydb/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapNotFound(t *testing.T) {
	err := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	assert.Equal(t, blobstore.ErrNotFound, mapNotFound(err))

	other := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	assert.Equal(t, other, mapNotFound(other))
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	const bucket = "test-countrydb"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")
	data := []byte(`[{"cca3":"DEU"}]`)
	require.NoError(t, store.Put(ctx, "batches/1.json", data))
	defer func() { _ = store.Delete(ctx, "batches/1.json") }()

	blob, err := store.Open(ctx, "batches/1.json")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 4)
	n, err := blob.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, `"cca`, string(buf[:n]))
	require.NoError(t, blob.Close())

	got, err := blobstore.ReadAll(ctx, store, "batches/1.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "batches/")
	require.NoError(t, err)
	assert.Contains(t, names, "batches/1.json")

	_, err = store.Open(ctx, "batches/missing.json")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
