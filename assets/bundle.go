package assets

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// LoadBundle reads a zstd compressed tar archive of a build directory into Assets.
// Entry names are cleaned of leading "./" and "/" before being keyed with Key(prefix, name).
func LoadBundle(bundlePath, prefix string) ([]Asset, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, &LocalIOError{Path: bundlePath, Err: err}
	}
	defer f.Close() //nolint:errcheck

	assets, err := readBundle(f, prefix)
	if err != nil {
		return nil, &LocalIOError{Path: bundlePath, Err: err}
	}
	return assets, nil
}

func readBundle(r io.Reader, prefix string) ([]Asset, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var assets []Asset
	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := strings.TrimPrefix(path.Clean("/"+header.Name), "/")
		if path.Base(name) == dsStoreName {
			continue
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		assets = append(assets, New(Key(prefix, name), buf.Bytes()))
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Key < assets[j].Key })
	return assets, nil
}

// WriteBundle writes the files as a zstd compressed tar archive; names are slash separated
// relative paths. It produces the archives LoadBundle reads.
func WriteBundle(w io.Writer, files map[string][]byte) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content := files[name]
		header := &tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar file header: %w", err)
		}
		if _, err := tw.Write(content); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}
