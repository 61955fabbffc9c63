package batch

import (
	"context"

	"github.com/ic-communities/deployutils/assets"
)

// UploadChunkedAsset uploads one asset to a certified asset canister:
// CreateAssetBatch, one CreateChunk per chunk in order, then CommitAssetBatch with
// a CreateAsset and a SetAssetContent operation referencing the chunk ids.
func (u *Uploader) UploadChunkedAsset(ctx context.Context, canister AssetCanister, asset assets.Asset) (UploadResult, error) {
	if err := u.validate(asset.Key); err != nil {
		return UploadResult{}, err
	}

	chunks := SplitChunks(asset.Content, u.config.ChunkSize)
	result := UploadResult{Key: asset.Key, Size: int64(asset.Size()), Chunks: len(chunks)}
	if u.hashing() {
		result.SHA256 = assets.Checksum(asset.Content)
	}
	if skip, err := u.alreadyCommitted(result); err != nil || skip {
		result.Skipped = skip
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, cancelled(asset.Key, StageCreate, err)
	}

	var batchID BatchID
	err := u.call(0, func() error {
		var err error
		batchID, err = canister.CreateAssetBatch(ctx)
		return err
	})
	if err != nil {
		return result, &RemoteCallError{Stage: StageCreate, Key: asset.Key, ChunkIndex: NoChunk, Err: err}
	}
	u.logger.Debugf("Created batch %d for %s", batchID, asset.Key)

	chunkIDs := make([]ChunkID, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return result, cancelled(asset.Key, StageCreateChunk, err)
		}

		var chunkID ChunkID
		err := u.call(int64(len(chunk)), func() error {
			var err error
			chunkID, err = canister.CreateChunk(ctx, batchID, chunk)
			return err
		})
		if err != nil {
			return result, &RemoteCallError{Stage: StageCreateChunk, Key: asset.Key, ChunkIndex: i, Err: err}
		}
		chunkIDs = append(chunkIDs, chunkID)
		u.report(ProgressEvent{Key: asset.Key, Stage: StageCreateChunk, ChunkIndex: i, Chunks: len(chunks), Bytes: int64(len(chunk))})
	}

	encoding := asset.ContentEncoding
	if encoding == "" {
		encoding = assets.EncodingIdentity
	}
	content := &SetAssetContent{Key: asset.Key, ContentEncoding: encoding, ChunkIDs: chunkIDs}
	if u.config.IntegrityHash {
		content.SHA256 = result.SHA256
	}
	ops := []Operation{
		{CreateAsset: &CreateAsset{Key: asset.Key, ContentType: asset.ContentType}},
		{SetAssetContent: content},
	}

	if err := ctx.Err(); err != nil {
		return result, cancelled(asset.Key, StageCommit, err)
	}
	if err := u.call(0, func() error { return canister.CommitAssetBatch(ctx, batchID, ops) }); err != nil {
		return result, &RemoteCallError{Stage: StageCommit, Key: asset.Key, ChunkIndex: NoChunk, Err: err}
	}
	u.report(ProgressEvent{Key: asset.Key, Stage: StageCommit, ChunkIndex: NoChunk, Chunks: len(chunks)})

	return result, u.record(result)
}
