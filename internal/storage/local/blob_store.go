// Package local archives fetched pages on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem archive.
type Config struct {
	Dir string `mapstructure:"dir"`
}

// BlobStore writes archived pages under a root directory.
type BlobStore struct {
	root string
}

// New creates the root directory if needed and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.Dir)
	if root == "" {
		return nil, fmt.Errorf("archive.dir is required")
	}
	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(root, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create archive dir: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat archive dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("archive dir %s is not a directory", root)
	}

	probe, err := os.CreateTemp(root, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("archive dir is not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}
	return &BlobStore{root: filepath.Clean(root)}, nil
}

// PutObject writes data to root/path and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.root, path))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes archive dir", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".part-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename object: %w", err)
	}
	return "file://" + full, nil
}
