// Package batch uploads named payloads to a batch-oriented remote store: a single call for
// payloads that fit in one chunk, otherwise an ordered create/append/commit session per key.
// It also groups many small assets into execute_batch calls and drives the chunk-id based
// batches of certified asset canisters.
package batch

import (
	"context"
)

// Store is the batch upload call surface of a remote canister.
// Chunks of one key must be appended in order; the store correlates a batch to its key.
type Store interface {
	// StoreBatch stores a payload that fits in a single message.
	StoreBatch(ctx context.Context, key string, content []byte) error
	// CreateBatch opens an upload session for key.
	CreateBatch(ctx context.Context, key string) error
	// AppendChunk appends the next chunk to the open session of key.
	AppendChunk(ctx context.Context, key string, chunk []byte) error
	// CommitBatch finalizes the session and makes the asset visible under key.
	CommitBatch(ctx context.Context, key string) error
}

// StoreArgs is the argument of the metadata-rich single-shot store call.
type StoreArgs struct {
	Key             string `json:"key"`
	ContentType     string `json:"content_type"`
	ContentEncoding string `json:"content_encoding"`
	Content         []byte `json:"content"`
}

// MetadataStore stores a complete asset together with its content type and encoding.
type MetadataStore interface {
	Store(ctx context.Context, args StoreArgs) error
}

// StoreAsset stores a complete asset as part of an execute_batch call.
type StoreAsset struct {
	Key             string `json:"key"`
	ContentType     string `json:"content_type"`
	ContentEncoding string `json:"content_encoding"`
	Content         []byte `json:"content"`
	SHA256          []byte `json:"sha256,omitempty"`
}

// CreateAsset declares an asset in a certified asset canister batch.
type CreateAsset struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

// SetAssetContent binds previously created chunks to an asset encoding.
type SetAssetContent struct {
	Key             string    `json:"key"`
	ContentEncoding string    `json:"content_encoding"`
	ChunkIDs        []ChunkID `json:"chunk_ids"`
	SHA256          []byte    `json:"sha256,omitempty"`
}

// Operation is one batch operation; exactly one field is set.
type Operation struct {
	StoreAsset      *StoreAsset      `json:"StoreAsset,omitempty"`
	CreateAsset     *CreateAsset     `json:"CreateAsset,omitempty"`
	SetAssetContent *SetAssetContent `json:"SetAssetContent,omitempty"`
}

// BatchExecutor executes a list of operations in one remote call.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, operations []Operation) error
}

// BatchID identifies a certified asset canister batch.
type BatchID uint64

// ChunkID identifies a chunk created inside a certified asset canister batch.
type ChunkID uint64

// AssetCanister is the chunk-id based batch surface of a certified asset canister.
type AssetCanister interface {
	CreateAssetBatch(ctx context.Context) (BatchID, error)
	CreateChunk(ctx context.Context, batchID BatchID, content []byte) (ChunkID, error)
	CommitAssetBatch(ctx context.Context, batchID BatchID, operations []Operation) error
}

// Journal remembers which keys were committed with which content.
type Journal interface {
	Committed(key string, sha256 []byte) (bool, error)
	Record(key string, sha256 []byte, size int64) error
}

// UploadResult describes a finished upload.
type UploadResult struct {
	Key    string
	Size   int64
	Chunks int
	// SHA256 is set when the content was hashed (integrity hashing or journaling enabled).
	SHA256 []byte
	// Skipped is true when the journal already had identical content committed under Key.
	Skipped bool
}

// ProgressEvent is reported after each successful remote step.
type ProgressEvent struct {
	Key        string
	Stage      Stage
	ChunkIndex int
	Chunks     int
	Bytes      int64
}

// ProgressFunc receives progress events; it's called synchronously from the uploading goroutine.
type ProgressFunc func(ProgressEvent)
