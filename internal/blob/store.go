// Package blob stores chart files, audio, backgrounds and previews by key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound indicates no object is stored under the key.
	ErrNotFound = errors.New("blob: object not found")
	// ErrInvalidKey indicates a key that is empty, absolute or escapes the store root.
	ErrInvalidKey = errors.New("blob: invalid key")
)

// Store is the object storage capability. Writes are last-writer-wins.
type Store interface {
	Connect(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// ValidateKey checks that key is a clean relative slash-separated path.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return nil
}
