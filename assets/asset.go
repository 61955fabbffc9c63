// Package assets describes the payloads uploaded to a canister: their keys, content types and
// where their bytes come from on the local machine.
package assets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// EncodingIdentity is the only content encoding the upload protocol sends.
const EncodingIdentity = "identity"

// ListingKey is the key of the JSON asset listing uploaded by template deployments.
const ListingKey = "frontend.assets"

// Asset is a named byte payload stored remotely under Key.
type Asset struct {
	Key             string
	Content         []byte
	ContentType     string
	ContentEncoding string
}

// New creates an Asset with the content type derived from the key.
func New(key string, content []byte) Asset {
	return Asset{
		Key:             key,
		Content:         content,
		ContentType:     ContentType(key),
		ContentEncoding: EncodingIdentity,
	}
}

// Size returns the content length in bytes.
func (a Asset) Size() int {
	return len(a.Content)
}

// ContentType maps the key's file extension to a MIME type.
func ContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	case strings.HasSuffix(key, ".js"):
		return "text/javascript"
	case strings.HasSuffix(key, ".css"):
		return "text/css"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".md"):
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}

// Key joins a prefix and a relative (slash or OS separated) path into an absolute asset key.
// An empty prefix keeps the relative path as-is, which is how template deployments key files.
func Key(prefix, rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if prefix == "" {
		return rel
	}
	return path.Join("/", prefix, rel)
}

// UpgradeKey returns the key an upgrade asset is stored under on the parent canister.
func UpgradeKey(track, version, name string) string {
	return fmt.Sprintf("/upgrades/%s/%s/%s", track, version, strings.TrimPrefix(name, "/"))
}

// UpgradePrefix returns the key prefix shared by all assets of an upgrade.
func UpgradePrefix(track, version string) string {
	return fmt.Sprintf("/upgrades/%s/%s", track, version)
}

// Listing builds the JSON listing asset of the given relative paths.
func Listing(paths []string) (Asset, error) {
	if paths == nil {
		paths = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(paths); err != nil {
		return Asset{}, fmt.Errorf("marshal asset listing: %w", err)
	}
	return New(ListingKey, bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
