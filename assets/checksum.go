package assets

import (
	"crypto/sha256"
	"io"
	"os"
)

// Checksum returns the SHA-256 digest of the content.
func Checksum(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}

// ChecksumOfFile streams the file at path through SHA-256.
func ChecksumOfFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LocalIOError{Path: path, Err: err}
	}
	defer f.Close() //nolint:errcheck

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, &LocalIOError{Path: path, Err: err}
	}
	return hash.Sum(nil), nil
}
