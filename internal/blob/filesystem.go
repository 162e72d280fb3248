package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilesystemStore keeps objects as files below a root directory.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore returns a store rooted at root. The directory is created on Connect.
func NewFilesystemStore(root string) *FilesystemStore {
	return &FilesystemStore{root: root}
}

func (s *FilesystemStore) Connect(context.Context) error {
	if s.root == "" {
		return fmt.Errorf("blob: filesystem root is required")
	}
	return os.MkdirAll(s.root, 0o755)
}

func (s *FilesystemStore) Close() error { return nil }

// Put writes through a temporary file and renames it into place so readers
// never observe a partial object.
func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	scratch, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return err
	}
	if _, err := scratch.Write(data); err != nil {
		scratch.Close()
		os.Remove(scratch.Name())
		return err
	}
	if err := scratch.Close(); err != nil {
		os.Remove(scratch.Name())
		return err
	}
	if err := os.Rename(scratch.Name(), target); err != nil {
		os.Remove(scratch.Name())
		return err
	}
	return nil
}

func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FilesystemStore) Exists(_ context.Context, key string) (bool, error) {
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *FilesystemStore) Delete(_ context.Context, key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FilesystemStore) resolve(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
