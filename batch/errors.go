package batch

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names the remote call that failed.
type Stage string

// Stages of the upload protocols.
const (
	StageStoreBatch   Stage = "store_batch"
	StageStore        Stage = "store"
	StageCreate       Stage = "create"
	StageAppend       Stage = "append"
	StageCommit       Stage = "commit"
	StageExecuteBatch Stage = "execute_batch"
	StageCreateChunk  Stage = "create_chunk"
)

// NoChunk is the ChunkIndex of stages that aren't about a single chunk.
const NoChunk = -1

// ErrDuplicateKey is returned when one call would upload the same key twice.
var ErrDuplicateKey = errors.New("duplicate asset key")

// RemoteCallError is a failed call against the remote store.
type RemoteCallError struct {
	Stage Stage
	Key   string
	// ChunkIndex is the 0-based index of the failing chunk for append and create_chunk,
	// the failing group for execute_batch, NoChunk otherwise.
	ChunkIndex int
	Err        error
}

func (e *RemoteCallError) Error() string {
	switch {
	case e.Stage == StageExecuteBatch:
		return fmt.Sprintf("%s failed for group %d (starting at %s): %s", e.Stage, e.ChunkIndex+1, e.Key, e.Err)
	case e.ChunkIndex != NoChunk:
		return fmt.Sprintf("%s failed for %s at chunk %d: %s", e.Stage, e.Key, e.ChunkIndex, e.Err)
	default:
		return fmt.Sprintf("%s failed for %s: %s", e.Stage, e.Key, e.Err)
	}
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// ConfigurationError is an invalid or missing setting found before any remote call.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// UploadErrors aggregates the per-key failures of a best-effort upload.
type UploadErrors []error

func (m UploadErrors) Error() string {
	msgs := make([]string, 0, len(m))
	for _, err := range m {
		if err == nil {
			continue
		}
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d upload(s) failed:\n%s", len(msgs), strings.Join(msgs, "\n"))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (m UploadErrors) Unwrap() []error {
	return m
}

func appendErr(m *UploadErrors, err error) {
	if err == nil {
		return
	}
	*m = append(*m, err)
}
