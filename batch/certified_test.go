package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ic-communities/deployutils/assets"
)

type fakeAssetCanister struct {
	nextChunk ChunkID
	chunks    map[ChunkID][]byte
	committed []Operation
	failChunk int
}

func newFakeAssetCanister() *fakeAssetCanister {
	return &fakeAssetCanister{chunks: map[ChunkID][]byte{}, failChunk: -1}
}

func (c *fakeAssetCanister) CreateAssetBatch(context.Context) (BatchID, error) {
	return 7, nil
}

func (c *fakeAssetCanister) CreateChunk(_ context.Context, batchID BatchID, content []byte) (ChunkID, error) {
	if batchID != 7 {
		return 0, errors.New("unknown batch")
	}
	if int(c.nextChunk) == c.failChunk {
		return 0, errors.New("chunk rejected")
	}
	id := c.nextChunk
	c.nextChunk++
	c.chunks[id] = append([]byte{}, content...)
	return id, nil
}

func (c *fakeAssetCanister) CommitAssetBatch(_ context.Context, _ BatchID, ops []Operation) error {
	c.committed = ops
	return nil
}

func TestUploader_UploadChunkedAsset(t *testing.T) {
	canister := newFakeAssetCanister()
	config := DefaultConfig()
	config.ChunkSize = 4
	config.IntegrityHash = true
	asset := assets.New("/index.html", []byte("0123456789"))

	result, err := testUploader(config).UploadChunkedAsset(context.Background(), canister, asset)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Chunks)
	require.Len(t, canister.committed, 2)

	create := canister.committed[0].CreateAsset
	require.NotNil(t, create)
	assert.Equal(t, CreateAsset{Key: "/index.html", ContentType: "text/html"}, *create)

	set := canister.committed[1].SetAssetContent
	require.NotNil(t, set)
	assert.Equal(t, []ChunkID{0, 1, 2}, set.ChunkIDs)
	assert.Equal(t, assets.EncodingIdentity, set.ContentEncoding)
	assert.Equal(t, assets.Checksum(asset.Content), set.SHA256)

	var joined []byte
	for _, id := range set.ChunkIDs {
		joined = append(joined, canister.chunks[id]...)
	}
	assert.Equal(t, asset.Content, joined)
}

func TestUploader_UploadChunkedAsset_ChunkFailure(t *testing.T) {
	canister := newFakeAssetCanister()
	canister.failChunk = 1
	config := DefaultConfig()
	config.ChunkSize = 4

	_, err := testUploader(config).UploadChunkedAsset(context.Background(), canister, assets.New("/a", []byte("0123456789")))

	var remoteErr *RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, StageCreateChunk, remoteErr.Stage)
	assert.Equal(t, 1, remoteErr.ChunkIndex)
	assert.Nil(t, canister.committed)
}
