package batch

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ic-communities/deployutils/assets"
)

// ChunkProvider provides the chunks of one payload, in upload order.
type ChunkProvider interface {
	// NumChunks returns the total number of chunks.
	NumChunks() int

	// ChunkSize returns the size of the chunk at the given index.
	ChunkSize(index int) int64

	// GetChunk returns the bytes of the chunk at the given index.
	// It may be called again for the same index when a key is restarted.
	GetChunk(index int) ([]byte, error)
}

// ByteSliceChunkProvider provides chunks from pre-split byte slices.
type ByteSliceChunkProvider struct {
	chunks [][]byte
}

// NewByteSliceChunkProvider creates a ChunkProvider from byte slices.
func NewByteSliceChunkProvider(chunks [][]byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{chunks: chunks}
}

// NewContentChunkProvider splits content into chunkSize chunks.
func NewContentChunkProvider(content []byte, chunkSize int) *ByteSliceChunkProvider {
	return NewByteSliceChunkProvider(SplitChunks(content, chunkSize))
}

// NumChunks returns the total number of chunks.
func (p *ByteSliceChunkProvider) NumChunks() int {
	return len(p.chunks)
}

// ChunkSize returns the size of the chunk at the given index.
func (p *ByteSliceChunkProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= len(p.chunks) {
		return 0
	}
	return int64(len(p.chunks[index]))
}

// GetChunk returns the chunk at the given index.
func (p *ByteSliceChunkProvider) GetChunk(index int) ([]byte, error) {
	if index < 0 || index >= len(p.chunks) {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, len(p.chunks))
	}
	return p.chunks[index], nil
}

// FileChunkProvider reads chunks from a file on disk.
// Thread-safe for parallel chunk reads.
type FileChunkProvider struct {
	path          string
	file          *os.File
	size          int64
	chunkSize     int64
	lastChunkSize int64
	numChunks     int
	mu            sync.Mutex
}

// NewFileChunkProvider creates a ChunkProvider that reads from a file.
func NewFileChunkProvider(path string, chunkSize int) (*FileChunkProvider, error) {
	if chunkSize <= 0 {
		return nil, &ConfigurationError{Field: "ChunkSize", Reason: fmt.Sprintf("must be positive, got %d", chunkSize)}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &assets.LocalIOError{Path: path, Err: err}
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &assets.LocalIOError{Path: path, Err: err}
	}

	size := info.Size()
	numChunks := NumChunks(size, chunkSize)
	lastChunkSize := size - int64(numChunks-1)*int64(chunkSize)

	return &FileChunkProvider{
		path:          path,
		file:          file,
		size:          size,
		chunkSize:     int64(chunkSize),
		lastChunkSize: lastChunkSize,
		numChunks:     numChunks,
	}, nil
}

// Size returns the file size.
func (p *FileChunkProvider) Size() int64 {
	return p.size
}

// NumChunks returns the total number of chunks.
func (p *FileChunkProvider) NumChunks() int {
	return p.numChunks
}

// ChunkSize returns the size of the chunk at the given index.
func (p *FileChunkProvider) ChunkSize(index int) int64 {
	if index == p.numChunks-1 {
		return p.lastChunkSize
	}
	return p.chunkSize
}

// GetChunk reads the chunk at the given index into memory.
func (p *FileChunkProvider) GetChunk(index int) ([]byte, error) {
	if index < 0 || index >= p.numChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, p.numChunks)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.ChunkSize(index)
	offset := int64(index) * p.chunkSize

	chunk := make([]byte, size)
	n, err := p.file.ReadAt(chunk, offset)
	if err != nil && err != io.EOF {
		return nil, &assets.LocalIOError{Path: p.path, Err: fmt.Errorf("read chunk %d: %w", index+1, err)}
	}
	if int64(n) != size {
		return nil, &assets.LocalIOError{Path: p.path, Err: fmt.Errorf("short read at chunk %d: %d of %d bytes", index+1, n, size)}
	}

	return chunk, nil
}

// Close closes the underlying file.
func (p *FileChunkProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
