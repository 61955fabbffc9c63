package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ic-communities/deployutils/assets"
)

func threeAssets() []assets.Asset {
	return []assets.Asset{
		assets.New("/a", []byte("aaa")),
		assets.New("/b", payload(DefaultChunkSize+10)),
		assets.New("/c", []byte("ccc")),
	}
}

func failKey(failing string) func(method, key string, index int) error {
	return func(_, key string, _ int) error {
		if key == failing {
			return fmt.Errorf("rejected %s", key)
		}
		return nil
	}
}

func TestUploadAll_FailFast(t *testing.T) {
	store := newRecordingStore()
	store.fail = failKey("/b")

	results, err := testUploader(DefaultConfig()).UploadAll(context.Background(), store, threeAssets(), UploadAllOptions{Policy: FailFast})

	var remoteErr *RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "/b", remoteErr.Key)
	assert.Equal(t, StageCreate, remoteErr.Stage)

	require.Len(t, results, 1)
	assert.Equal(t, "/a", results[0].Key)
	assert.Empty(t, store.methods("/c"))
}

func TestUploadAll_BestEffort(t *testing.T) {
	store := newRecordingStore()
	store.fail = failKey("/b")

	results, err := testUploader(DefaultConfig()).UploadAll(context.Background(), store, threeAssets(), UploadAllOptions{Policy: BestEffort})

	require.Error(t, err)
	var uploadErrs UploadErrors
	require.ErrorAs(t, err, &uploadErrs)
	require.Len(t, uploadErrs, 1)

	var remoteErr *RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "/b", remoteErr.Key)

	require.Len(t, results, 2)
	assert.Equal(t, "/a", results[0].Key)
	assert.Equal(t, "/c", results[1].Key)
	assert.Equal(t, []string{"store_batch"}, store.methods("/c"))
}

func TestUploadAll_Concurrent(t *testing.T) {
	store := newRecordingStore()
	var items []assets.Asset
	for i := 0; i < 20; i++ {
		size := 100
		if i%5 == 0 {
			size = DefaultChunkSize*2 + 1
		}
		items = append(items, assets.New(fmt.Sprintf("/file-%02d", i), payload(size)))
	}

	results, err := testUploader(DefaultConfig()).UploadAll(context.Background(), store, items, UploadAllOptions{Concurrency: 4})

	require.NoError(t, err)
	require.Len(t, results, len(items))
	for i, item := range items {
		assert.Equal(t, item.Key, results[i].Key)
		stored, ok := store.content(item.Key)
		require.True(t, ok, item.Key)
		assert.Equal(t, item.Content, stored)
	}

	// chunk order within each key is preserved
	for i := 0; i < len(items); i += 5 {
		key := items[i].Key
		assert.Equal(t, []string{"create_batch", "append_chunk", "append_chunk", "append_chunk", "commit_batch"}, store.methods(key))
	}
}

func TestUploadAll_DuplicateKey(t *testing.T) {
	store := newRecordingStore()
	items := []assets.Asset{assets.New("/a", nil), assets.New("/a", nil)}

	_, err := testUploader(DefaultConfig()).UploadAll(context.Background(), store, items, UploadAllOptions{})

	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.Empty(t, store.calls)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	p, err = ParsePolicy("best-effort")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, p)
	assert.Equal(t, "best-effort", p.String())

	_, err = ParsePolicy("yolo")
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}
