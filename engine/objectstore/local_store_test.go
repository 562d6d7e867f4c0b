package objectstore_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/gerror"
	"github.com/buildbeaver/workflow-engine/engine/objectstore"
)

func TestLocalStorePutGetRoundTrip(t *testing.T) {
	store := objectstore.NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.EnsureBucket(ctx, "artifacts"))
	key := objectstore.BuildKey("output", "job-1", "encode", "", ".mp4")
	require.Equal(t, "output/job-1/encode/encode.mp4", key)

	require.NoError(t, store.Put(ctx, "artifacts", key, bytes.NewReader([]byte("payload")), "video/mp4"))

	reader, err := store.Get(ctx, "artifacts", key)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestLocalStoreGetMissingReturnsNotFound(t *testing.T) {
	store := objectstore.NewLocalStore(t.TempDir())
	_, err := store.Get(context.Background(), "artifacts", "does/not/exist.mp4")
	require.Error(t, err)
	require.True(t, gerror.IsNotFound(err))
}

func TestBuildKeyDirectoryForm(t *testing.T) {
	require.Equal(t, "input/job-1/fetch/", objectstore.BuildKey("input", "job-1", "fetch", "", ""))
	require.Equal(t, "log/job-1/fetch/stdout.log", objectstore.BuildKey("log", "job-1", "fetch", "stdout.log", ""))
}
