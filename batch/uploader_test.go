package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ic-communities/deployutils/assets"
)

func TestUploader_Upload_FastPath(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "small", size: 500},
		{name: "empty", size: 0},
		{name: "exactly one chunk", size: DefaultChunkSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRecordingStore()
			content := payload(tt.size)

			result, err := testUploader(DefaultConfig()).Upload(context.Background(), store, "/small", content)

			require.NoError(t, err)
			assert.Equal(t, []string{"store_batch"}, store.methods("/small"))
			assert.Equal(t, []int{tt.size}, store.sizes("store_batch", "/small"))
			assert.Equal(t, 1, result.Chunks)
			assert.Equal(t, int64(tt.size), result.Size)

			stored, ok := store.content("/small")
			require.True(t, ok)
			assert.Equal(t, len(content), len(stored))
		})
	}
}

func TestUploader_Upload_Chunked(t *testing.T) {
	store := newRecordingStore()
	content := payload(2500000)

	result, err := testUploader(DefaultConfig()).Upload(context.Background(), store, "child.wasm", content)

	require.NoError(t, err)
	assert.Equal(t, []string{"create_batch", "append_chunk", "append_chunk", "append_chunk", "commit_batch"}, store.methods("child.wasm"))
	assert.Equal(t, []int{1024000, 1024000, 452000}, store.sizes("append_chunk", "child.wasm"))
	assert.Equal(t, 0, store.count("store_batch"))
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, int64(2500000), result.Size)

	stored, ok := store.content("child.wasm")
	require.True(t, ok)
	assert.Equal(t, content, stored)
}

func TestUploader_Upload_OneByteOverChunkSize(t *testing.T) {
	store := newRecordingStore()

	_, err := testUploader(DefaultConfig()).Upload(context.Background(), store, "k", payload(DefaultChunkSize+1))

	require.NoError(t, err)
	assert.Equal(t, []int{DefaultChunkSize, 1}, store.sizes("append_chunk", "k"))
	assert.Equal(t, 1, store.count("create_batch"))
	assert.Equal(t, 1, store.count("commit_batch"))
}

func TestUploader_Upload_AppendFailureStopsBeforeCommit(t *testing.T) {
	injected := errors.New("canister rejected the message")
	store := newRecordingStore()
	store.fail = func(method, key string, index int) error {
		if method == "append_chunk" && index == 1 {
			return injected
		}
		return nil
	}

	_, err := testUploader(DefaultConfig()).Upload(context.Background(), store, "k", payload(2500000))

	require.Error(t, err)
	var remoteErr *RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, StageAppend, remoteErr.Stage)
	assert.Equal(t, "k", remoteErr.Key)
	assert.Equal(t, 1, remoteErr.ChunkIndex)
	assert.ErrorIs(t, err, injected)

	assert.Equal(t, []string{"create_batch", "append_chunk", "append_chunk"}, store.methods("k"))
	assert.Equal(t, 0, store.count("commit_batch"))
	_, committed := store.content("k")
	assert.False(t, committed)
}

func TestUploader_Upload_StageErrors(t *testing.T) {
	tests := []struct {
		name      string
		failOn    string
		size      int
		wantStage Stage
		wantCalls []string
	}{
		{name: "store_batch", failOn: "store_batch", size: 10, wantStage: StageStoreBatch, wantCalls: []string{"store_batch"}},
		{name: "create", failOn: "create_batch", size: DefaultChunkSize * 2, wantStage: StageCreate, wantCalls: []string{"create_batch"}},
		{
			name:      "commit",
			failOn:    "commit_batch",
			size:      DefaultChunkSize * 2,
			wantStage: StageCommit,
			wantCalls: []string{"create_batch", "append_chunk", "append_chunk", "commit_batch"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRecordingStore()
			store.fail = func(method, _ string, _ int) error {
				if method == tt.failOn {
					return errors.New("boom")
				}
				return nil
			}

			_, err := testUploader(DefaultConfig()).Upload(context.Background(), store, "k", payload(tt.size))

			var remoteErr *RemoteCallError
			require.ErrorAs(t, err, &remoteErr)
			assert.Equal(t, tt.wantStage, remoteErr.Stage)
			assert.Equal(t, NoChunk, remoteErr.ChunkIndex)
			assert.Equal(t, tt.wantCalls, store.methods("k"))
		})
	}
}

func TestUploader_Upload_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newRecordingStore()
	store.onAppend = func(_ string, index int) {
		if index == 0 {
			cancel()
		}
	}

	_, err := testUploader(DefaultConfig()).Upload(ctx, store, "k", payload(2500000))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"create_batch", "append_chunk"}, store.methods("k"))
}

func TestUploader_Upload_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newRecordingStore()
	_, err := testUploader(DefaultConfig()).Upload(ctx, store, "k", payload(10))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.methods("k"))
}

func TestUploader_Upload_RestartFromFirstChunk(t *testing.T) {
	var mu sync.Mutex
	failed := false
	store := newRecordingStore()
	store.fail = func(method, _ string, index int) error {
		mu.Lock()
		defer mu.Unlock()
		if method == "append_chunk" && index == 1 && !failed {
			failed = true
			return errors.New("transient")
		}
		return nil
	}

	config := DefaultConfig()
	config.MaxRestarts = 1
	config.RestartWait = 0
	content := payload(2500000)

	_, err := testUploader(config).Upload(context.Background(), store, "k", content)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"create_batch", "append_chunk", "append_chunk",
		"create_batch", "append_chunk", "append_chunk", "append_chunk", "commit_batch",
	}, store.methods("k"))

	stored, ok := store.content("k")
	require.True(t, ok)
	assert.Equal(t, content, stored)
}

func TestUploader_Upload_RestartsExhausted(t *testing.T) {
	store := newRecordingStore()
	store.fail = func(method, _ string, _ int) error {
		if method == "store_batch" {
			return errors.New("down")
		}
		return nil
	}

	config := DefaultConfig()
	config.MaxRestarts = 2
	config.RestartWait = 0

	_, err := testUploader(config).Upload(context.Background(), store, "k", payload(10))

	var remoteErr *RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 3, store.count("store_batch"))
}

func TestUploader_Upload_CancelledDuringRestartWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newRecordingStore()
	store.fail = func(method, _ string, _ int) error {
		if method == "append_chunk" {
			time.AfterFunc(50*time.Millisecond, cancel)
			return errors.New("transient")
		}
		return nil
	}

	config := DefaultConfig()
	config.MaxRestarts = 3
	config.RestartWait = 5 * time.Second

	start := time.Now()
	_, err := testUploader(config).Upload(ctx, store, "k", payload(2500000))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, store.count("create_batch"))
}

func TestUploader_Upload_ConfigurationErrors(t *testing.T) {
	store := newRecordingStore()

	_, err := testUploader(Config{ChunkSize: -1}).Upload(context.Background(), store, "k", payload(10))
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "ChunkSize", configErr.Field)

	_, err = testUploader(DefaultConfig()).Upload(context.Background(), store, "", payload(10))
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "Key", configErr.Field)

	assert.Empty(t, store.calls)
}

func TestUploader_ZeroChunkSizeUsesDefault(t *testing.T) {
	uploader := testUploader(Config{})
	assert.Equal(t, DefaultChunkSize, uploader.Config().ChunkSize)
}

func TestUploader_Upload_Progress(t *testing.T) {
	var events []ProgressEvent
	config := DefaultConfig()
	config.Progress = func(e ProgressEvent) { events = append(events, e) }

	_, err := testUploader(config).Upload(context.Background(), newRecordingStore(), "k", payload(2500000))

	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, StageCreate, events[0].Stage)
	var sent int64
	for i, e := range events[1:4] {
		assert.Equal(t, StageAppend, e.Stage)
		assert.Equal(t, i, e.ChunkIndex)
		assert.Equal(t, 3, e.Chunks)
		sent += e.Bytes
	}
	assert.Equal(t, int64(2500000), sent)
	assert.Equal(t, StageCommit, events[4].Stage)
}

func TestUploader_Upload_IntegrityHash(t *testing.T) {
	config := DefaultConfig()
	config.IntegrityHash = true
	content := payload(100)

	result, err := testUploader(config).Upload(context.Background(), newRecordingStore(), "k", content)

	require.NoError(t, err)
	assert.Equal(t, assets.Checksum(content), result.SHA256)

	plain, err := testUploader(DefaultConfig()).Upload(context.Background(), newRecordingStore(), "k", content)
	require.NoError(t, err)
	assert.Nil(t, plain.SHA256)
}

func TestUploader_Upload_JournalSkipsUnchanged(t *testing.T) {
	store := newRecordingStore()
	config := DefaultConfig()
	config.Journal = newMemoryJournal()
	uploader := testUploader(config)

	first, err := uploader.Upload(context.Background(), store, "k", []byte("v1"))
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	second, err := uploader.Upload(context.Background(), store, "k", []byte("v1"))
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 1, store.count("store_batch"))

	third, err := uploader.Upload(context.Background(), store, "k", []byte("v2"))
	require.NoError(t, err)
	assert.False(t, third.Skipped)
	assert.Equal(t, 2, store.count("store_batch"))
}

func TestUploader_Upload_FailedUploadIsNotJournaled(t *testing.T) {
	journal := newMemoryJournal()
	store := newRecordingStore()
	store.fail = func(string, string, int) error { return errors.New("down") }

	config := DefaultConfig()
	config.Journal = journal

	_, err := testUploader(config).Upload(context.Background(), store, "k", []byte("v1"))

	require.Error(t, err)
	assert.Empty(t, journal.entries)
}

func TestUploader_UploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.wasm")
	content := payload(2500000)
	require.NoError(t, os.WriteFile(path, content, 0644))

	store := newRecordingStore()
	result, err := testUploader(DefaultConfig()).UploadFile(context.Background(), store, "wasm", path)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, []int{1024000, 1024000, 452000}, store.sizes("append_chunk", "wasm"))
	stored, ok := store.content("wasm")
	require.True(t, ok)
	assert.Equal(t, content, stored)
}

func TestUploader_UploadFile_Missing(t *testing.T) {
	store := newRecordingStore()

	_, err := testUploader(DefaultConfig()).UploadFile(context.Background(), store, "wasm", filepath.Join(t.TempDir(), "nope"))

	var ioErr *assets.LocalIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Empty(t, store.calls)
}

type recordingMetadataStore struct {
	args []StoreArgs
	err  error
}

func (s *recordingMetadataStore) Store(_ context.Context, args StoreArgs) error {
	s.args = append(s.args, args)
	return s.err
}

func TestUploader_UploadWithMetadata(t *testing.T) {
	store := &recordingMetadataStore{}
	asset := assets.New("/index.html", []byte("<html></html>"))

	result, err := testUploader(DefaultConfig()).UploadWithMetadata(context.Background(), store, asset)

	require.NoError(t, err)
	assert.Equal(t, int64(13), result.Size)
	require.Len(t, store.args, 1)
	assert.Equal(t, StoreArgs{
		Key:             "/index.html",
		ContentType:     "text/html",
		ContentEncoding: assets.EncodingIdentity,
		Content:         []byte("<html></html>"),
	}, store.args[0])
}

func TestUploader_UploadWithMetadata_Error(t *testing.T) {
	store := &recordingMetadataStore{err: errors.New("denied")}

	_, err := testUploader(DefaultConfig()).UploadWithMetadata(context.Background(), store, assets.New("/a.txt", []byte("a")))

	var remoteErr *RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, StageStore, remoteErr.Stage)
	assert.Equal(t, "store failed for /a.txt: denied", err.Error())
}

func TestRemoteCallError_Error(t *testing.T) {
	err := &RemoteCallError{Stage: StageAppend, Key: "k", ChunkIndex: 2, Err: errors.New("x")}
	assert.Equal(t, "append failed for k at chunk 2: x", err.Error())

	err = &RemoteCallError{Stage: StageExecuteBatch, Key: "/a", ChunkIndex: 0, Err: errors.New("x")}
	assert.Equal(t, "execute_batch failed for group 1 (starting at /a): x", err.Error())
}
