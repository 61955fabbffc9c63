package assets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/melbahja/got"
)

// IsRemote reports whether the source is an http(s) URL rather than a local path.
func IsRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Fetch downloads a remote build artifact (for example a compiled wasm module) to dest.
func Fetch(ctx context.Context, client *http.Client, source, dest string, logger log.Logger) error {
	if !IsRemote(source) {
		return fmt.Errorf("not a remote source: %s", source)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &LocalIOError{Path: dest, Err: err}
	}

	logger.Debugf("Downloading %s to %s", source, dest)
	downloader := got.New()
	if client != nil {
		downloader.Client = client
	}
	if err := downloader.Do(got.NewDownload(ctx, source, dest)); err != nil {
		return fmt.Errorf("download %s: %w", source, err)
	}
	return nil
}

// Resolve returns a local path for source, downloading it into dir first when it's remote.
func Resolve(ctx context.Context, client *http.Client, source, dir string, logger log.Logger) (string, error) {
	if !IsRemote(source) {
		return source, nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", source, err)
	}
	name := filepath.Base(strings.TrimSuffix(u.Path, "/"))
	if name == "" || name == "." || name == "/" {
		name = "download"
	}

	dest := filepath.Join(dir, name)
	if err := Fetch(ctx, client, source, dest, logger); err != nil {
		return "", err
	}
	return dest, nil
}
