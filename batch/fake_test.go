package batch

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

type call struct {
	method string
	key    string
	size   int
}

// recordingStore is an in-memory Store that records every call.
type recordingStore struct {
	mu        sync.Mutex
	calls     []call
	open      map[string]*bytes.Buffer
	committed map[string][]byte
	appends   map[string]int

	// fail returns an error for the given call; index is the per-key append index.
	fail func(method, key string, index int) error
	// onAppend runs after a successful append.
	onAppend func(key string, index int)
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		open:      map[string]*bytes.Buffer{},
		committed: map[string][]byte{},
		appends:   map[string]int{},
	}
}

func (s *recordingStore) record(method, key string, size, index int) error {
	s.mu.Lock()
	s.calls = append(s.calls, call{method: method, key: key, size: size})
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		return fail(method, key, index)
	}
	return nil
}

func (s *recordingStore) StoreBatch(_ context.Context, key string, content []byte) error {
	if err := s.record("store_batch", key, len(content), -1); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed[key] = append([]byte{}, content...)
	return nil
}

func (s *recordingStore) CreateBatch(_ context.Context, key string) error {
	if err := s.record("create_batch", key, 0, -1); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[key] = &bytes.Buffer{}
	s.appends[key] = 0
	return nil
}

func (s *recordingStore) AppendChunk(_ context.Context, key string, chunk []byte) error {
	s.mu.Lock()
	index := s.appends[key]
	s.appends[key]++
	s.mu.Unlock()

	if err := s.record("append_chunk", key, len(chunk), index); err != nil {
		return err
	}

	s.mu.Lock()
	buf, ok := s.open[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no open batch for %s", key)
	}
	buf.Write(chunk)
	onAppend := s.onAppend
	s.mu.Unlock()

	if onAppend != nil {
		onAppend(key, index)
	}
	return nil
}

func (s *recordingStore) CommitBatch(_ context.Context, key string) error {
	if err := s.record("commit_batch", key, 0, -1); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.open[key]
	if !ok {
		return fmt.Errorf("no open batch for %s", key)
	}
	s.committed[key] = buf.Bytes()
	delete(s.open, key)
	return nil
}

func (s *recordingStore) methods(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var methods []string
	for _, c := range s.calls {
		if c.key == key {
			methods = append(methods, c.method)
		}
	}
	return methods
}

func (s *recordingStore) sizes(method, key string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sizes []int
	for _, c := range s.calls {
		if c.key == key && c.method == method {
			sizes = append(sizes, c.size)
		}
	}
	return sizes
}

func (s *recordingStore) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (s *recordingStore) content(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.committed[key]
	return c, ok
}

type memoryJournal struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{entries: map[string][]byte{}}
}

func (j *memoryJournal) Committed(key string, sha256 []byte) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sum, ok := j.entries[key]
	return ok && bytes.Equal(sum, sha256), nil
}

func (j *memoryJournal) Record(key string, sha256 []byte, _ int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[key] = sha256
	return nil
}

func payload(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func testUploader(config Config) *Uploader {
	return New(config, log.NewLogger())
}
