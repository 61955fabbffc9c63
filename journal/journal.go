// Package journal persists which asset keys a deployment already committed, and with
// which content, so an interrupted deployment can be resumed without sending unchanged keys again.
package journal

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// Entry is the journal record of one committed key.
type Entry struct {
	Key         string    `json:"key"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	CommittedAt time.Time `json:"committed_at"`
	RunID       string    `json:"run_id"`
}

// Journal is a badger backed key journal.
type Journal struct {
	db    *badger.DB
	runID string
	now   func() time.Time
}

// Open opens (or creates) the journal stored in dir.
func Open(dir string, logger log.Logger) (*Journal, error) {
	opt := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger})
	return open(opt)
}

// OpenInMemory opens a journal that lives as long as the process.
func OpenInMemory(logger log.Logger) (*Journal, error) {
	opt := badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{logger: logger})
	return open(opt)
}

func open(opt badger.Options) (*Journal, error) {
	db, err := badger.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db, runID: uuid.NewString(), now: time.Now}, nil
}

// RunID identifies the entries written by this process.
func (j *Journal) RunID() string {
	return j.runID
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Scope returns the part of the journal that belongs to one canister.
func (j *Journal) Scope(canisterID string) *Scope {
	return &Scope{journal: j, prefix: []byte(canisterID + "\x00")}
}

// Scope is a canister's view of the journal. It implements batch.Journal.
type Scope struct {
	journal *Journal
	prefix  []byte
}

func (s *Scope) key(key string) []byte {
	return append(append([]byte{}, s.prefix...), key...)
}

// Record stores that key was committed with the given content digest.
func (s *Scope) Record(key string, sha256 []byte, size int64) error {
	entry := Entry{
		Key:         key,
		SHA256:      hex.EncodeToString(sha256),
		Size:        size,
		CommittedAt: s.journal.now().UTC(),
		RunID:       s.journal.runID,
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.journal.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), val)
	})
}

// Committed reports whether key was committed with exactly this content digest.
// A nil digest never matches.
func (s *Scope) Committed(key string, sha256 []byte) (bool, error) {
	if len(sha256) == 0 {
		return false, nil
	}

	entry, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	recorded, err := hex.DecodeString(entry.SHA256)
	if err != nil {
		return false, fmt.Errorf("corrupt journal entry for %s: %w", key, err)
	}
	return bytes.Equal(recorded, sha256), nil
}

// ErrNotFound is returned by Get for keys that aren't journaled.
var ErrNotFound = errors.New("key not in journal")

// Get returns the entry of key.
func (s *Scope) Get(key string) (Entry, error) {
	var entry Entry
	err := s.journal.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	return entry, err
}

// Entries returns every entry of the scope sorted by key.
func (s *Scope) Entries() ([]Entry, error) {
	var entries []Entry
	err := s.journal.db.View(func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.Prefix = s.prefix
		iter := txn.NewIterator(opt)
		defer iter.Close()

		for iter.Seek(s.prefix); iter.ValidForPrefix(s.prefix); iter.Next() {
			var entry Entry
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("read journal entry %s: %w", strings.TrimPrefix(string(iter.Item().Key()), string(s.prefix)), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	sort.Slice(entries, func(i, k int) bool { return entries[i].Key < entries[k].Key })
	return entries, err
}

// Forget removes key from the journal.
func (s *Scope) Forget(key string) error {
	return s.journal.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
}

// Reset removes every entry of the scope.
func (s *Scope) Reset() error {
	return s.journal.db.DropPrefix(s.prefix)
}

type badgerLogger struct {
	logger log.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(strings.TrimSuffix(format, "\n"), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(strings.TrimSuffix(format, "\n"), args...)
}
