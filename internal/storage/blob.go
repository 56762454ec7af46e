// Package storage holds the binary assets exam questions reference by key,
// such as diagram images. Attempt snapshots embed only the key; the bytes are
// served separately so publishing an exam edit never rewrites stored blobs.
package storage

import (
	"errors"
	"io"
	"strings"
)

var ErrBadKey = errors.New("storage: invalid asset key")

type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
}

// CleanKey rejects keys that could escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return "", ErrBadKey
	}
	return key, nil
}
