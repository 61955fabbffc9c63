package assets

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
)

const dsStoreName = ".DS_Store"

// Collector lists and reads the files of a local build directory.
type Collector struct {
	logger log.Logger
	// Filter is an optional doublestar pattern matched against the slash separated relative path.
	Filter string
}

// NewCollector ...
func NewCollector(logger log.Logger, filter string) (*Collector, error) {
	if filter != "" && !doublestar.ValidatePattern(filter) {
		return nil, fmt.Errorf("invalid filter pattern: %s", filter)
	}
	return &Collector{logger: logger, Filter: filter}, nil
}

// Files returns the relative, slash separated paths of every regular file below dir, sorted.
// macOS .DS_Store files are skipped.
func (c *Collector) Files(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LocalIOError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &LocalIOError{Path: dir, Err: fmt.Errorf("not a directory")}
	}

	var files []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() == dsStoreName {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		ok, err := c.match(rel)
		if err != nil {
			return err
		}
		if !ok {
			c.logger.Debugf("Skipping %s, doesn't match filter %s", rel, c.Filter)
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, &LocalIOError{Path: dir, Err: err}
	}

	sort.Strings(files)
	return files, nil
}

// Load reads every file below dir into an Asset keyed by Key(prefix, relativePath).
func (c *Collector) Load(dir, prefix string) ([]Asset, error) {
	files, err := c.Files(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		c.logger.Warnf("No files found in %s", dir)
	}

	assets := make([]Asset, 0, len(files))
	for _, rel := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, &LocalIOError{Path: p, Err: err}
		}
		assets = append(assets, New(Key(prefix, rel), content))
	}
	return assets, nil
}

// ReadFile reads a single file into an Asset stored under key.
func ReadFile(path, key string) (Asset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Asset{}, &LocalIOError{Path: path, Err: err}
	}
	return New(key, content), nil
}

func (c *Collector) match(rel string) (bool, error) {
	if c.Filter == "" {
		return true, nil
	}
	ok, err := doublestar.Match(c.Filter, rel)
	if err != nil {
		return false, fmt.Errorf("match %s against %s: %w", rel, c.Filter, err)
	}
	return ok, nil
}
