package batch

import (
	"time"
)

const (
	// DefaultChunkSize is the chunk size of the create/append/commit protocol.
	DefaultChunkSize = 1024000
	// LegacyChunkSize is the chunk size used by older deployment tooling.
	LegacyChunkSize = 1000000
	// MaxMessageSize is the ingress message limit of a canister call.
	MaxMessageSize = 2097152
	// DefaultMessageCeiling leaves room for the call envelope inside MaxMessageSize.
	DefaultMessageCeiling = MaxMessageSize - 20000
)

// Config holds configuration for the batch uploader.
type Config struct {
	// ChunkSize is the maximum number of bytes sent per append.
	// Default: DefaultChunkSize
	ChunkSize int

	// MaxRestarts is how many times a failed key is uploaded again from the start.
	// Single chunks are never re-sent on their own, the store can't deduplicate appends.
	// Default: 0
	MaxRestarts uint

	// RestartWait is the pause before a restart.
	// Default: 5 seconds
	RestartWait time.Duration

	// IntegrityHash makes the uploader compute SHA-256 digests and send them where the
	// call surface has a field for it.
	IntegrityHash bool

	// Progress is called after every successful remote step. Optional.
	Progress ProgressFunc

	// Journal lets the uploader skip keys whose identical content was already committed. Optional.
	Journal Journal
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   DefaultChunkSize,
		MaxRestarts: 0,
		RestartWait: 5 * time.Second,
	}
}

// NumChunks returns ceil(size / chunkSize), at least 1.
func NumChunks(size int64, chunkSize int) int {
	if chunkSize <= 0 || size <= 0 {
		return 1
	}
	n := size / int64(chunkSize)
	if size%int64(chunkSize) != 0 {
		n++
	}
	return int(n)
}

// SplitChunks slices content into consecutive chunks of at most chunkSize bytes.
// The chunks share content's backing array. Empty content yields one empty chunk.
func SplitChunks(content []byte, chunkSize int) [][]byte {
	n := NumChunks(int64(len(content)), chunkSize)
	if n == 1 {
		return [][]byte{content}
	}

	chunks := make([][]byte, 0, n)
	for start := 0; start < len(content); start += chunkSize {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[start:end:end])
	}
	return chunks
}
