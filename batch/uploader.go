package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/ic-communities/deployutils/assets"
)

// Uploader sends payloads through the batch protocol, one key at a time.
// An Uploader can be shared by goroutines uploading different keys.
type Uploader struct {
	config Config
	logger log.Logger
	stats  *Stats
}

// New creates a new Uploader with the given configuration.
// A zero ChunkSize selects DefaultChunkSize; a negative one fails every upload with a ConfigurationError.
func New(config Config, logger log.Logger) *Uploader {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Uploader{
		config: config,
		logger: logger,
		stats:  NewStats(),
	}
}

// Config returns the effective configuration.
func (u *Uploader) Config() Config {
	return u.config
}

// Stats returns the remote call statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Upload stores content under key: a single StoreBatch call when it fits in one chunk,
// otherwise CreateBatch, one AppendChunk per chunk in order and CommitBatch.
func (u *Uploader) Upload(ctx context.Context, store Store, key string, content []byte) (UploadResult, error) {
	if err := u.validate(key); err != nil {
		return UploadResult{}, err
	}

	var sum []byte
	if u.hashing() {
		sum = assets.Checksum(content)
	}

	return u.upload(ctx, store, key, NewContentChunkProvider(content, u.config.ChunkSize), int64(len(content)), sum)
}

// UploadFile streams the file at path through the batch protocol, reading one chunk at a time.
func (u *Uploader) UploadFile(ctx context.Context, store Store, key, path string) (UploadResult, error) {
	if err := u.validate(key); err != nil {
		return UploadResult{}, err
	}

	provider, err := NewFileChunkProvider(path, u.config.ChunkSize)
	if err != nil {
		return UploadResult{}, err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	var sum []byte
	if u.hashing() {
		sum, err = assets.ChecksumOfFile(path)
		if err != nil {
			return UploadResult{}, err
		}
	}

	return u.upload(ctx, store, key, provider, provider.Size(), sum)
}

// UploadWithMetadata stores a complete asset with a single Store call.
func (u *Uploader) UploadWithMetadata(ctx context.Context, store MetadataStore, asset assets.Asset) (UploadResult, error) {
	if err := u.validate(asset.Key); err != nil {
		return UploadResult{}, err
	}

	size := int64(asset.Size())
	if size > DefaultMessageCeiling {
		u.logger.Warnf("%s is %s, it may not fit in a single message", asset.Key, units.HumanSizeWithPrecision(float64(size), 3))
	}

	result := UploadResult{Key: asset.Key, Size: size, Chunks: 1}
	if u.hashing() {
		result.SHA256 = assets.Checksum(asset.Content)
	}
	if skip, err := u.alreadyCommitted(result); err != nil || skip {
		result.Skipped = skip
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, cancelled(asset.Key, StageStore, err)
	}

	u.logger.Debugf("Storing %s", asset.Key)
	err := u.call(size, func() error {
		return store.Store(ctx, StoreArgs{
			Key:             asset.Key,
			ContentType:     asset.ContentType,
			ContentEncoding: asset.ContentEncoding,
			Content:         asset.Content,
		})
	})
	if err != nil {
		return result, &RemoteCallError{Stage: StageStore, Key: asset.Key, ChunkIndex: NoChunk, Err: err}
	}
	u.report(ProgressEvent{Key: asset.Key, Stage: StageStore, ChunkIndex: NoChunk, Chunks: 1, Bytes: size})

	return result, u.record(result)
}

func (u *Uploader) upload(ctx context.Context, store Store, key string, provider ChunkProvider, size int64, sum []byte) (UploadResult, error) {
	result := UploadResult{
		Key:    key,
		Size:   size,
		Chunks: provider.NumChunks(),
		SHA256: sum,
	}

	if skip, err := u.alreadyCommitted(result); err != nil || skip {
		result.Skipped = skip
		return result, err
	}

	start := time.Now()
	err := retry.Times(u.config.MaxRestarts).Wait(0).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return cancelled(key, StageCreate, ctx.Err()), true
			case <-time.After(u.config.RestartWait):
			}
			u.logger.Warnf("Restarting upload of %s from the first chunk (%d/%d)", key, attempt, u.config.MaxRestarts)
		}

		err := u.send(ctx, store, key, provider)
		if err == nil {
			return nil, true
		}

		var remoteErr *RemoteCallError
		restartable := errors.As(err, &remoteErr) && ctx.Err() == nil
		if restartable && attempt < u.config.MaxRestarts {
			u.logger.Warnf("Upload of %s failed: %s", key, err)
		}
		return err, !restartable
	})
	if err != nil {
		return result, err
	}

	u.logger.Debugf("Uploaded %s (%s, %d chunk(s)) in %s", key,
		units.HumanSizeWithPrecision(float64(size), 3), result.Chunks, time.Since(start).Round(time.Millisecond))

	return result, u.record(result)
}

// send runs one complete attempt of the protocol for key.
func (u *Uploader) send(ctx context.Context, store Store, key string, provider ChunkProvider) error {
	numChunks := provider.NumChunks()

	if numChunks <= 1 {
		content, err := provider.GetChunk(0)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return cancelled(key, StageStoreBatch, err)
		}

		u.logger.Debugf("Storing %s batch...", key)
		err = u.call(int64(len(content)), func() error {
			return store.StoreBatch(ctx, key, content)
		})
		if err != nil {
			return &RemoteCallError{Stage: StageStoreBatch, Key: key, ChunkIndex: NoChunk, Err: err}
		}
		u.report(ProgressEvent{Key: key, Stage: StageStoreBatch, ChunkIndex: 0, Chunks: 1, Bytes: int64(len(content))})
		return nil
	}

	if err := ctx.Err(); err != nil {
		return cancelled(key, StageCreate, err)
	}
	u.logger.Debugf("Creating %s batch...", key)
	if err := u.call(0, func() error { return store.CreateBatch(ctx, key) }); err != nil {
		return &RemoteCallError{Stage: StageCreate, Key: key, ChunkIndex: NoChunk, Err: err}
	}
	u.report(ProgressEvent{Key: key, Stage: StageCreate, ChunkIndex: NoChunk, Chunks: numChunks})

	u.logger.Debugf("Appending %d chunk(s) to %s...", numChunks, key)
	for i := 0; i < numChunks; i++ {
		chunk, err := provider.GetChunk(i)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return cancelled(key, StageAppend, err)
		}

		err = u.call(int64(len(chunk)), func() error {
			return store.AppendChunk(ctx, key, chunk)
		})
		if err != nil {
			return &RemoteCallError{Stage: StageAppend, Key: key, ChunkIndex: i, Err: err}
		}
		u.report(ProgressEvent{Key: key, Stage: StageAppend, ChunkIndex: i, Chunks: numChunks, Bytes: int64(len(chunk))})
	}

	if err := ctx.Err(); err != nil {
		return cancelled(key, StageCommit, err)
	}
	u.logger.Debugf("Committing %s batch...", key)
	if err := u.call(0, func() error { return store.CommitBatch(ctx, key) }); err != nil {
		return &RemoteCallError{Stage: StageCommit, Key: key, ChunkIndex: NoChunk, Err: err}
	}
	u.report(ProgressEvent{Key: key, Stage: StageCommit, ChunkIndex: NoChunk, Chunks: numChunks})

	return nil
}

func (u *Uploader) call(bytes int64, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	u.stats.Update(time.Since(start), bytes)
	return nil
}

func (u *Uploader) report(event ProgressEvent) {
	if u.config.Progress != nil {
		u.config.Progress(event)
	}
}

func (u *Uploader) validate(key string) error {
	if u.config.ChunkSize <= 0 {
		return &ConfigurationError{Field: "ChunkSize", Reason: fmt.Sprintf("must be positive, got %d", u.config.ChunkSize)}
	}
	if key == "" {
		return &ConfigurationError{Field: "Key", Reason: "must not be empty"}
	}
	return nil
}

func (u *Uploader) hashing() bool {
	return u.config.IntegrityHash || u.config.Journal != nil
}

func (u *Uploader) alreadyCommitted(result UploadResult) (bool, error) {
	if u.config.Journal == nil {
		return false, nil
	}

	committed, err := u.config.Journal.Committed(result.Key, result.SHA256)
	if err != nil {
		return false, fmt.Errorf("look up %s in journal: %w", result.Key, err)
	}
	if committed {
		u.logger.Printf("%s is unchanged since the last deploy, skipping", result.Key)
	}
	return committed, nil
}

func (u *Uploader) record(result UploadResult) error {
	if u.config.Journal == nil {
		return nil
	}
	if err := u.config.Journal.Record(result.Key, result.SHA256, result.Size); err != nil {
		return fmt.Errorf("record %s in journal: %w", result.Key, err)
	}
	return nil
}

func cancelled(key string, before Stage, err error) error {
	return fmt.Errorf("upload of %s cancelled before %s: %w", key, before, err)
}
